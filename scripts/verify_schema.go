package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"strings"

	_ "modernc.org/sqlite"
)

func main() {
	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		dbPath = "./data/triggers.db"
	}
	fmt.Printf("Verifying database at: %s\n", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		log.Fatalf("Failed to open DB: %v", err)
	}
	defer db.Close()

	for _, table := range []string{"triggers", "execution_results"} {
		fmt.Printf("\nVerifying %s table...\n", table)
		rows, err := db.Query("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table)
		if err != nil {
			log.Fatalf("Query failed: %v", err)
		}
		if rows.Next() {
			fmt.Printf("✓ %s table exists\n", table)
		} else {
			fmt.Printf("❌ %s table MISSING\n", table)
		}
		rows.Close()
	}

	fmt.Println("\nVerifying parent_id column in triggers...")
	var sqlSchema string
	err = db.QueryRow("SELECT sql FROM sqlite_master WHERE type='table' AND name='triggers'").Scan(&sqlSchema)
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	if strings.Contains(sqlSchema, "parent_id") {
		fmt.Println("✓ parent_id column exists")
	} else {
		fmt.Println("❌ parent_id column MISSING")
	}

	fmt.Println("\nVerifying unique trigger_id on execution_results...")
	err = db.QueryRow("SELECT sql FROM sqlite_master WHERE type='table' AND name='execution_results'").Scan(&sqlSchema)
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	if strings.Contains(sqlSchema, "UNIQUE") {
		fmt.Println("✓ unique constraint present")
	} else {
		fmt.Println("❌ unique constraint MISSING")
	}
}
