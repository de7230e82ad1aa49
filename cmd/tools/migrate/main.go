package main

import (
	"flag"
	"log"
	"os"

	"github.com/joho/godotenv"

	"rentbridge.com/app/internal/database"
	"rentbridge.com/app/internal/http/middleware"
	"rentbridge.com/app/internal/modules/leases"
	"rentbridge.com/app/internal/modules/payments"
)

// Creates or updates the payment engine tables. The lease, user and session
// tables belong to other services; -with-shared creates them for local setups.
func main() {
	_ = godotenv.Load()

	driver := flag.String("driver", envOr("DB_DRIVER", "mysql"), "Database driver (mysql, sqlite)")
	dsn := flag.String("dsn", os.Getenv("DB_DSN"), "Database DSN")
	withShared := flag.Bool("with-shared", false, "Also migrate users, properties, leases and sessions")
	flag.Parse()

	if *dsn == "" {
		log.Fatal("DB_DSN environment variable or -dsn is required")
	}

	db, err := database.Open(*driver, *dsn)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	if *withShared {
		if err := db.AutoMigrate(&leases.User{}, &leases.Property{}, &leases.Lease{}, &middleware.Session{}); err != nil {
			log.Fatalf("Failed to migrate shared tables: %v", err)
		}
		log.Println("Shared tables migrated")
	}

	if err := db.AutoMigrate(payments.Models()...); err != nil {
		log.Fatalf("Failed to migrate payment tables: %v", err)
	}
	log.Println("Payment tables migrated")
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
