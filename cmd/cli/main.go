package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/luthier-storefront/internal/config"
	"github.com/iliyamo/luthier-storefront/internal/database"
	"github.com/iliyamo/luthier-storefront/internal/model"
	"github.com/iliyamo/luthier-storefront/internal/repository"
	"github.com/iliyamo/luthier-storefront/internal/service"
	"github.com/iliyamo/luthier-storefront/internal/utils"
)

const usage = "expected 'migrate', 'add-admin' or 'seed' subcommand"

func main() {
	addAdminCmd := flag.NewFlagSet("add-admin", flag.ExitOnError)
	email := addAdminCmd.String("email", "", "Email of the admin account")
	password := addAdminCmd.String("password", "", "Password of the admin account")
	name := addAdminCmd.String("name", "Workshop", "Display name")

	seedCmd := flag.NewFlagSet("seed", flag.ExitOnError)
	file := seedCmd.String("file", "catalog.json", "JSON array of instruments")
	noTranslate := seedCmd.Bool("no-translate", false, "Do not queue translations for seeded instruments")

	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}

	log, _ := zap.NewDevelopment()
	defer func() { _ = log.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config", zap.Error(err))
	}
	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatal("open database", zap.Error(err))
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	// Every subcommand needs the schema, so migrations always run first.
	if err := database.Migrate(ctx, db, log); err != nil {
		log.Fatal("migrate", zap.Error(err))
	}

	switch os.Args[1] {
	case "migrate":
		fmt.Println("Database is up to date.")
	case "add-admin":
		_ = addAdminCmd.Parse(os.Args[2:])
		if *email == "" || *password == "" {
			fmt.Println("email and password are required")
			addAdminCmd.PrintDefaults()
			os.Exit(1)
		}
		if err := addAdmin(ctx, repository.NewUserRepo(db), *email, *password, *name, cfg.BcryptCost); err != nil {
			log.Fatal("add admin", zap.Error(err))
		}
		fmt.Printf("Admin '%s' is ready.\n", *email)
	case "seed":
		_ = seedCmd.Parse(os.Args[2:])
		catalog := service.NewCatalogService(
			repository.NewInstrumentRepo(db, cfg.DefaultLocale), repository.NewOutboxRepo(db),
			cfg.DefaultLocale, cfg.Locales, log)
		n, err := seed(ctx, catalog, *file, service.SaveOptions{SkipAutoTranslate: *noTranslate}, log)
		if err != nil {
			log.Fatal("seed", zap.Error(err))
		}
		fmt.Printf("Seeded %d instruments.\n", n)
	default:
		fmt.Println(usage)
		os.Exit(1)
	}
}

// addAdmin creates a verified admin account, or promotes an existing
// account with the same email.
func addAdmin(ctx context.Context, users *repository.UserRepo, email, password, name string, cost int) error {
	if len(password) < 8 {
		return errors.New("password must be at least 8 characters")
	}
	hash, err := utils.HashPassword(password, cost)
	if err != nil {
		return err
	}
	err = users.Create(ctx, &model.User{
		Email:         email,
		Name:          name,
		PasswordHash:  hash,
		Role:          model.RoleAdmin,
		EmailVerified: true,
	})
	if errors.Is(err, repository.ErrEmailExists) {
		return users.SetRole(ctx, email, model.RoleAdmin)
	}
	return err
}

// seed creates every instrument in file. Instruments whose slug already
// exists are skipped so the command can be re-run.
func seed(ctx context.Context, catalog *service.CatalogService, file string, opts service.SaveOptions, log *zap.Logger) (int, error) {
	raw, err := os.ReadFile(file)
	if err != nil {
		return 0, err
	}
	var items []service.InstrumentInput
	if err := json.Unmarshal(raw, &items); err != nil {
		return 0, fmt.Errorf("parse %s: %w", file, err)
	}
	n := 0
	for _, in := range items {
		_, err := catalog.Create(ctx, in, opts)
		if se, ok := service.AsError(err); ok && se.Code == service.CodeSlugTaken {
			log.Info("skipping existing instrument", zap.String("slug", in.Slug))
			continue
		}
		if err != nil {
			return n, fmt.Errorf("instrument %q: %w", in.Slug, err)
		}
		n++
	}
	return n, nil
}
