// blogctl 是博客的运维命令行：初始化管理员、填充演示数据、预览 slug。
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/inkblog/internal/auth"
	"github.com/inkblog/internal/config"
	"github.com/inkblog/internal/db"
	"github.com/inkblog/internal/logging"
	"github.com/inkblog/internal/seed"
	"github.com/inkblog/internal/service"
	"github.com/inkblog/internal/slug"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

var (
	storeDriver string
	storeURL    string
	verbose     bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "blogctl",
		Short:         "Maintenance commands for the inkblog content store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&storeDriver, "driver", "", "Store driver (sqlite or postgres), overrides STORE_DRIVER")
	rootCmd.PersistentFlags().StringVar(&storeURL, "store", "", "Store URL or sqlite path, overrides STORE_URL")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(initAdminCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(slugCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type runtime struct {
	cfg    config.AppConfig
	db     *gorm.DB
	logger *slog.Logger
}

// openRuntime 加载配置并连接存储。命令行不签发令牌，缺少 SERVICE_KEY 不算错误。
func openRuntime() (*runtime, error) {
	cfg, err := config.Load()
	if err != nil && !errors.Is(err, config.ErrMissingServiceKey) {
		return nil, err
	}
	if storeDriver != "" {
		cfg.StoreDriver = storeDriver
	}
	if storeURL != "" {
		cfg.StoreURL = storeURL
	}

	level := "warn"
	if verbose {
		level = "debug"
	}
	logger := logging.New(logging.Options{Writer: os.Stderr, Format: logging.FormatText, Level: level})

	gdb, err := db.Open(db.Options{Driver: cfg.StoreDriver, URL: cfg.StoreURL, Silent: !verbose})
	if err != nil {
		return nil, err
	}
	return &runtime{cfg: cfg, db: gdb, logger: logger}, nil
}

func (r *runtime) close() {
	if sqlDB, err := r.db.DB(); err == nil {
		sqlDB.Close()
	}
}

func initAdminCmd() *cobra.Command {
	var email, password string
	var reset bool

	cmd := &cobra.Command{
		Use:   "init-admin",
		Short: "Create the admin account, or reset its password with --reset",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime()
			if err != nil {
				return err
			}
			defer rt.close()

			if email == "" {
				email = rt.cfg.AdminEmail
			}
			if password == "" {
				password = rt.cfg.AdminPassword
			}
			if email == "" || password == "" {
				return errors.New("--email and --password are required (or ADMIN_EMAIL / ADMIN_PASSWORD)")
			}

			provider := auth.NewProvider(rt.db, auth.NewGormTokenStore(rt.db), auth.ProviderOptions{
				Secret: []byte(rt.cfg.ServiceKey),
			}, rt.logger)

			if reset {
				if err := provider.SetPassword(cmd.Context(), email, password); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "password updated for %s\n", email)
				return nil
			}

			user, created, err := provider.EnsureUser(cmd.Context(), email, password)
			if err != nil {
				return err
			}
			if created {
				fmt.Fprintf(cmd.OutOrStdout(), "admin %s created (id %s)\n", user.Email, user.ID)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "admin %s already exists, use --reset to change the password\n", user.Email)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Admin email")
	cmd.Flags().StringVar(&password, "password", "", "Admin password")
	cmd.Flags().BoolVar(&reset, "reset", false, "Reset the password of an existing admin")
	return cmd
}

func seedCmd() *cobra.Command {
	var opts seed.Options
	var authorEmail string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Fill the store with demo categories and posts",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Published < 0 || opts.Published > 1 {
				return fmt.Errorf("--published must be between 0 and 1, got %v", opts.Published)
			}

			rt, err := openRuntime()
			if err != nil {
				return err
			}
			defer rt.close()

			if authorEmail == "" {
				authorEmail = rt.cfg.AdminEmail
			}
			if authorEmail != "" {
				var user db.AdminUser
				if err := rt.db.WithContext(cmd.Context()).
					Where("email = ?", strings.ToLower(strings.TrimSpace(authorEmail))).
					First(&user).Error; err != nil {
					return fmt.Errorf("author %s: %w", authorEmail, err)
				}
				opts.AuthorID = user.ID
			}

			seeder := seed.New(
				service.NewPostService(rt.db, rt.logger),
				service.NewCategoryService(rt.db, rt.logger),
				rt.logger,
			)
			result, err := seeder.Run(cmd.Context(), opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %d categories, %d posts (%d published)\n",
				result.Categories, result.Posts, result.Published)
			return nil
		},
	}

	cmd.Flags().IntVarP(&opts.Posts, "posts", "n", 20, "Number of posts to create")
	cmd.Flags().Int64Var(&opts.Seed, "seed", 0, "Random seed, 0 picks a random one")
	cmd.Flags().Float64Var(&opts.Published, "published", 0.7, "Share of posts to publish (0..1)")
	cmd.Flags().StringVar(&authorEmail, "author", "", "Email of the admin credited as author")
	return cmd
}

func slugCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "slug <title>",
		Short: "Print the URL slug generated for a title",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s := slug.Generate(strings.Join(args, " "))
			if s == "" {
				return errors.New("title produces an empty slug")
			}
			fmt.Fprintln(cmd.OutOrStdout(), s)
			return nil
		},
	}
}
