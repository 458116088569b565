package main

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/yourusername/mocktest-api/internal/config"
	"github.com/yourusername/mocktest-api/pkg/database"
)

// Использование:
//
//	migrate up          применить все миграции
//	migrate force <N>   снять dirty-состояние, выставив версию N
func main() {
	if len(os.Args) < 2 {
		usage()
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := database.NewPostgresDB(cfg.Database.PostgresConnectionString(), database.DefaultPoolConfig(), false)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close(db)

	dir := os.Getenv("MIGRATIONS_DIR")

	switch os.Args[1] {
	case "up":
		if err := database.MigrateDB(db, dir); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
	case "force":
		if len(os.Args) < 3 {
			usage()
		}
		version, err := strconv.Atoi(os.Args[2])
		if err != nil {
			log.Fatalf("Invalid version %q: %v", os.Args[2], err)
		}
		fmt.Printf("Forcing migration version to %d to clean dirty state...\n", version)
		if err := database.ForceMigrationVersion(db, dir, version); err != nil {
			log.Fatalf("Failed to force version: %v", err)
		}
		fmt.Println("Success! Dirty state cleaned. You can now run the app normally.")
	default:
		usage()
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: migrate up | migrate force <version>")
	os.Exit(2)
}
