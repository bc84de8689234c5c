package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"gamepulse/internal/database"
	"gamepulse/internal/model"
	"gamepulse/internal/repository"
)

const maxRoster = 40

type coachStore interface {
	CountByNormalizedUsername(ctx context.Context, username string) (int, error)
	Create(ctx context.Context, u model.User) error
}

type playerCreator interface {
	Create(ctx context.Context, p model.Player) error
}

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage coach accounts",
	}
	cmd.AddCommand(newUserAddCmd())
	return cmd
}

func newUserAddCmd() *cobra.Command {
	var (
		username string
		password string
		roster   int
		cost     int
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a coach account, optionally with a numbered roster",
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				line, err := readLine(cmd.InOrStdin())
				if err != nil {
					return err
				}
				password = line
			}

			db, err := openDatabase(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.EnsureSchema(cmd.Context()); err != nil {
				return err
			}

			var created model.User
			err = db.WithTx(cmd.Context(), func(q database.Querier) error {
				var txErr error
				created, txErr = provisionCoach(cmd.Context(),
					repository.NewUserRepository(q), repository.NewPlayerRepository(q),
					username, password, roster, cost)
				return txErr
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "created user %s (%s) with %d players\n", created.Username, created.ID, roster)
			return nil
		},
	}

	cmd.Flags().StringVar(&username, "username", "", "Login name (required)")
	cmd.Flags().StringVar(&password, "password", "", "Password (read from stdin when empty)")
	cmd.Flags().IntVar(&roster, "roster", 0, "Create players with jersey numbers 1..N")
	cmd.Flags().IntVar(&cost, "cost", bcrypt.DefaultCost, "bcrypt cost")
	_ = cmd.MarkFlagRequired("username")

	return cmd
}

// provisionCoach refuses a username that would collide after normalization,
// since login treats such accounts as ambiguous.
func provisionCoach(ctx context.Context, users coachStore, players playerCreator, username, password string, roster, cost int) (model.User, error) {
	if repository.NormalizeUsername(username) == "" {
		return model.User{}, fmt.Errorf("username is required")
	}
	if roster < 0 || roster > maxRoster {
		return model.User{}, fmt.Errorf("roster must be between 0 and %d", maxRoster)
	}

	count, err := users.CountByNormalizedUsername(ctx, username)
	if err != nil {
		return model.User{}, err
	}
	if count > 0 {
		return model.User{}, fmt.Errorf("username %q: %w", username, model.ErrUserAlreadyExists)
	}

	hash, err := hashPassword(password, cost)
	if err != nil {
		return model.User{}, err
	}

	now := time.Now().UTC()
	user := model.User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: hash,
		CreatedAt:    now,
	}
	if err := users.Create(ctx, user); err != nil {
		return model.User{}, err
	}

	for n := 1; n <= roster; n++ {
		if err := players.Create(ctx, model.Player{
			ID:           uuid.NewString(),
			CoachID:      user.ID,
			JerseyNumber: n,
			CreatedAt:    now,
		}); err != nil {
			return model.User{}, err
		}
	}

	return user, nil
}
