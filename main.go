package main

import (
	"fmt"
	"log"
	"os"

	"github.com/customeros/dmarcwatch/config"
	"github.com/customeros/dmarcwatch/internal/database"
	"github.com/customeros/dmarcwatch/internal/repository"
	"github.com/customeros/dmarcwatch/server"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: dmarcwatch <command>")
		fmt.Println("Commands:")
		fmt.Println("  migrate   Run database migrations")
		fmt.Println("  server    Start the application server")
		os.Exit(1)
	}

	cfg, err := config.InitConfig()
	if err != nil {
		log.Fatalf("Config initialization failed: %v", err)
	}
	if cfg == nil {
		log.Fatalf("config is empty")
	}

	// Setup the database
	db, err := database.NewConnection(&database.DatabaseConfig{
		DBName:          cfg.DatabaseConfig.DBName,
		Host:            cfg.DatabaseConfig.Host,
		Port:            cfg.DatabaseConfig.Port,
		User:            cfg.DatabaseConfig.User,
		Password:        cfg.DatabaseConfig.Password,
		MaxConn:         cfg.DatabaseConfig.MaxConn,
		MaxIdleConn:     cfg.DatabaseConfig.MaxIdleConn,
		ConnMaxLifetime: cfg.DatabaseConfig.ConnMaxLifetime,
		LogLevel:        cfg.DatabaseConfig.LogLevel,
		SSLMode:         cfg.DatabaseConfig.SSLMode,
	})
	if err != nil {
		log.Fatalf("Database initialization failed: %v", err)
	}

	switch os.Args[1] {
	case "migrate":

		err := repository.MigrateDB(db)
		if err != nil {
			log.Fatalf("Database migration failed: %v", err)
		}
		log.Println("Database migration completed successfully")

	case "server":

		log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
		log.Println("DmarcWatch starting up...")

		srv, err := server.NewServer(cfg, db)
		if err != nil {
			log.Fatalf("Server setup failed: %v", err)
		}

		err = srv.Run()
		if err != nil {
			log.Fatalf("Server startup failed: %v", err)
		}

		log.Println("Shutdown complete")

	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		fmt.Println("Usage: dmarcwatch <command>")
		fmt.Println("Commands:")
		fmt.Println("  migrate   Run database migrations")
		fmt.Println("  server    Start the application server")
		os.Exit(1)
	}
}
