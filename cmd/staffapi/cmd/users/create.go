package users

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/mail"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/terraconstructs/staffgrid/cmd/staffapi/cmd/cmdutil"
	"github.com/terraconstructs/staffgrid/cmd/staffapi/internal/db/bunx"
	"github.com/terraconstructs/staffgrid/cmd/staffapi/internal/db/models"
	"github.com/terraconstructs/staffgrid/cmd/staffapi/internal/repository"
)

var (
	emailFlag     string
	firstNameFlag string
	lastNameFlag  string
	passwordFlag  string
	rolesInput    []string
	stdinFlag     bool
)

type createInput struct {
	Email     string
	FirstName string
	LastName  string
	Password  string
	Roles     []string
}

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a portal user",
	RunE: func(cmd *cobra.Command, args []string) error {
		password := passwordFlag
		if stdinFlag {
			scanner := bufio.NewScanner(os.Stdin)
			fmt.Fprint(os.Stderr, "Enter password: ")
			if scanner.Scan() {
				password = scanner.Text()
			}
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}
		}

		cfg, err := cmdutil.LoadConfig(cmd)
		if err != nil {
			return err
		}
		db, err := cmdutil.OpenDB(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer bunx.Close(db)

		return createUser(cmd.Context(), newRepos(db), createInput{
			Email:     emailFlag,
			FirstName: firstNameFlag,
			LastName:  lastNameFlag,
			Password:  password,
			Roles:     rolesInput,
		}, cmd.OutOrStdout())
	},
}

func createUser(ctx context.Context, r repos, in createInput, out io.Writer) error {
	if in.Email == "" {
		return fmt.Errorf("--email flag is required")
	}
	if len(in.Roles) == 0 {
		return fmt.Errorf("at least one role must be specified using --role")
	}
	if in.Password == "" {
		return fmt.Errorf("password is required (use --password or --stdin)")
	}
	if _, err := mail.ParseAddress(in.Email); err != nil {
		return fmt.Errorf("invalid email format: %w", err)
	}

	roles, err := resolveRoles(ctx, r.roles, in.Roles)
	if err != nil {
		return err
	}

	existing, err := r.users.GetByEmail(ctx, in.Email)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("failed to check email uniqueness: %w", err)
	}
	if existing != nil {
		return fmt.Errorf("user with email %q already exists", in.Email)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	user := &models.User{
		ID:           bunx.NewUUIDv7(),
		Email:        in.Email,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		PasswordHash: string(hashed),
	}
	if err := r.users.Create(ctx, user); err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	for i, role := range roles {
		if err := r.userRoles.Assign(ctx, user.ID, role.ID, i == 0); err != nil {
			return fmt.Errorf("failed to assign role '%s': %w", role.Name, err)
		}
	}

	names := make([]string, len(roles))
	for i, role := range roles {
		names[i] = role.Name
	}
	fmt.Fprintln(out, "User created successfully!")
	fmt.Fprintln(out, "----------------------------------------")
	fmt.Fprintf(out, "User ID: %s\n", user.ID)
	fmt.Fprintf(out, "Email: %s\n", user.Email)
	fmt.Fprintf(out, "Name: %s\n", user.DisplayName())
	fmt.Fprintf(out, "Roles: %s (primary: %s)\n", strings.Join(names, ", "), names[0])
	fmt.Fprintln(out, "----------------------------------------")
	return nil
}

// resolveRoles looks up roles by name and reports every unknown name at once.
func resolveRoles(ctx context.Context, roles repository.RoleRepository, names []string) ([]models.Role, error) {
	var found []models.Role
	var invalid []string
	for _, name := range names {
		role, err := roles.GetByName(ctx, strings.TrimSpace(name))
		if errors.Is(err, repository.ErrNotFound) {
			invalid = append(invalid, name)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to fetch role %q: %w", name, err)
		}
		found = append(found, *role)
	}
	if len(invalid) == 0 {
		return found, nil
	}

	all, err := roles.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	valid := make([]string, len(all))
	for i, role := range all {
		valid[i] = role.Name
	}
	return nil, fmt.Errorf("invalid role(s): %s\nValid roles are: %s",
		strings.Join(invalid, ", "), strings.Join(valid, ", "))
}
