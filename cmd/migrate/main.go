// Command migrate manages the identra database schema. Migrations are
// compiled into the binary, so the tool needs only a DSN.
//
//	migrate -dsn postgres://... up
//	migrate -dsn postgres://... status
//	migrate -dsn postgres://... create-admin -email root@example.com
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"identra.org/internal/auth"
	"identra.org/internal/migrate"
)

func main() {
	log.SetFlags(0)
	dsn := flag.String("dsn", os.Getenv("IDENTRA_PG_DSN"), "PostgreSQL DSN")
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or IDENTRA_PG_DSN")
	}
	if flag.NArg() == 0 {
		log.Fatal("usage: migrate [up|down|status|pending|create-admin]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	runner := migrate.NewRunner(db, migrate.Scripts())

	switch cmd := flag.Arg(0); cmd {
	case "up":
		ran, err := runner.Up(ctx)
		if err != nil {
			log.Fatalf("up: %v", err)
		}
		if len(ran) == 0 {
			fmt.Println("nothing to apply")
		}
		for _, name := range ran {
			fmt.Println("applied", name)
		}
	case "down":
		name, err := runner.Down(ctx)
		if err != nil {
			log.Fatalf("down: %v", err)
		}
		fmt.Println("rolled back", name)
	case "status":
		history, err := runner.Status(ctx)
		if err != nil {
			log.Fatalf("status: %v", err)
		}
		for _, rec := range history {
			fmt.Printf("%s\t%s\n", rec.Name, rec.AppliedAt.Format(time.RFC3339))
		}
	case "pending":
		names, err := runner.Pending(ctx)
		if err != nil {
			log.Fatalf("pending: %v", err)
		}
		for _, name := range names {
			fmt.Println(name)
		}
	case "create-admin":
		if err := createAdmin(ctx, db, flag.Args()[1:]); err != nil {
			log.Fatalf("create-admin: %v", err)
		}
	default:
		log.Fatalf("unknown command %q", cmd)
	}
}

// createAdmin bootstraps a verified admin account. The password comes
// from IDENTRA_ADMIN_PASSWORD so it never shows up in process listings.
func createAdmin(ctx context.Context, db *sql.DB, args []string) error {
	fs := flag.NewFlagSet("create-admin", flag.ExitOnError)
	email := fs.String("email", "", "admin email address")
	name := fs.String("name", "Administrator", "display name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" {
		return fmt.Errorf("missing -email")
	}
	password := os.Getenv("IDENTRA_ADMIN_PASSWORD")
	if password == "" {
		return fmt.Errorf("IDENTRA_ADMIN_PASSWORD is not set")
	}

	hash, err := auth.NewHasher(0).Hash(password)
	if err != nil {
		return err
	}
	user := &auth.User{
		Email:         *email,
		Name:          *name,
		PasswordHash:  hash,
		Role:          auth.RoleAdmin,
		EmailVerified: true,
	}
	if err := auth.NewPGStore(db).Create(ctx, user); err != nil {
		return err
	}
	fmt.Println("created admin", user.ID)
	return nil
}
