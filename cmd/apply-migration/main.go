package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/AbuHishamTareq/Evaluation-sub002/internal/config"
	"github.com/AbuHishamTareq/Evaluation-sub002/internal/database"
	"github.com/AbuHishamTareq/Evaluation-sub002/migrations"
)

// 用法：apply-migration [-dir ./migrations]
// 不指定 -dir 时执行二进制内嵌的脚本
func main() {
	dir := flag.String("dir", "", "directory of *.sql migrations (default: embedded)")
	flag.Parse()

	files, err := migrations.Load(*dir)
	if err != nil {
		log.Fatalf("Failed to load migrations: %v", err)
	}

	cfg := config.Load()
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		log.Fatalf("Cannot connect to database: %v", err)
	}
	defer database.Close(db)

	fmt.Printf("Connected to database: %s\n\n", cfg.Database.Database)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	ran, err := migrations.Apply(ctx, db, files)
	for _, name := range ran {
		fmt.Printf("✅ %s applied\n", name)
	}
	if err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	if len(ran) == 0 {
		fmt.Println("Nothing to apply, schema is up to date")
		return
	}
	fmt.Println("✅ Migration completed successfully!")
}
