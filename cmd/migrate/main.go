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

	"paperstack.io/internal/migrate"
)

func main() {
	log.SetFlags(0)
	var (
		dsn            = flag.String("dsn", os.Getenv("PAPERSTACK_PG_DSN"), "PostgreSQL DSN")
		migrationsPath = flag.String("migrations", "ops/migrations/sql", "Path to SQL migrations")
		seedsPath      = flag.String("seeds", "ops/migrations/seeds", "Path to SQL seeds")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or PAPERSTACK_PG_DSN")
	}
	if len(flag.Args()) == 0 {
		log.Fatal("usage: migrate [up|down|seed|status]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	mgr := migrate.NewManager(db, *migrationsPath, *seedsPath)

	switch cmd := flag.Arg(0); cmd {
	case "up":
		var n int
		if n, err = mgr.Up(ctx); err == nil {
			log.Printf("applied %d migration(s)", n)
		}
	case "down":
		var name string
		if name, err = mgr.Down(ctx); err == nil {
			log.Printf("rolled back %s", name)
		}
	case "seed":
		var n int
		if n, err = mgr.Seed(ctx); err == nil {
			log.Printf("applied %d seed(s)", n)
		}
	case "status":
		var st migrate.Status
		if st, err = mgr.Status(ctx); err == nil {
			for _, name := range st.Applied {
				fmt.Println("applied", name)
			}
			for _, name := range st.Pending {
				fmt.Println("pending", name)
			}
		}
	default:
		log.Fatalf("unknown command %q", cmd)
	}
	if err != nil {
		log.Fatalf("migrate %s: %v", flag.Arg(0), err)
	}
}
