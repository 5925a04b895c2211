// Command storage-init provisions the backing resources of the dashboard API:
// the SQL schema when DATABASE_URL is set, and the items table plus events
// queue when STORAGE_CONNECTION_STRING is set. It is safe to run repeatedly.
package main

import (
	"context"
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	log "github.com/sirupsen/logrus"

	"dashboard/storage"
)

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	log.Info("storage init starting")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	dsn := os.Getenv("DATABASE_URL")
	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	if dsn == "" && connStr == "" {
		log.Fatal("nothing to provision: set DATABASE_URL or STORAGE_CONNECTION_STRING")
	}

	if dsn != "" {
		// OpenSQL applies the schema idempotently
		s, err := storage.OpenSQL(ctx, dsn)
		if err != nil {
			log.Fatalf("sql schema: %v", err)
		}
		_ = s.Close()
		log.Info("sql schema ready")
	}

	if connStr != "" {
		table := os.Getenv("ITEMS_TABLE")
		if table == "" {
			table = "DashboardItems"
		}
		if err := createTables(ctx, connStr, []string{table}); err != nil {
			log.Fatalf("create tables: %v", err)
		}
		if err := createQueues(ctx, connStr, []string{os.Getenv("ITEM_EVENTS_QUEUE")}); err != nil {
			log.Fatalf("create queues: %v", err)
		}
	}

	log.Info("storage init complete")
}

func createTables(ctx context.Context, connStr string, names []string) error {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, nil)
	if err != nil {
		return err
	}
	for _, name := range names {
		if name == "" {
			continue
		}
		if _, err := svc.NewClient(name).CreateTable(ctx, nil); err != nil && !alreadyExists(err, string(aztables.TableAlreadyExists)) {
			return err
		}
		log.WithField("table", name).Info("table ready")
	}
	return nil
}

func createQueues(ctx context.Context, connStr string, names []string) error {
	for _, name := range names {
		if name == "" {
			continue
		}
		q, err := azqueue.NewQueueClientFromConnectionString(connStr, name, nil)
		if err != nil {
			return err
		}
		if _, err := q.Create(ctx, nil); err != nil && !alreadyExists(err, "QueueAlreadyExists") {
			return err
		}
		log.WithField("queue", name).Info("queue ready")
	}
	return nil
}

func alreadyExists(err error, code string) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.ErrorCode == code
}
