// Command zkimdemo exercises the full zkim core end to end: it encrypts a
// file into a ZKIM container, indexes it for search, runs a query against
// the Search Index Core, and decrypts the container back out. It exists to
// give the Service Shell a runnable collaborator, the way the teacher's
// loadtest runner exercises the gateway end to end.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloud10922/zkim/internal/config"
	"github.com/cloud10922/zkim/internal/cryptokernel"
	"github.com/cloud10922/zkim/internal/envelope"
	"github.com/cloud10922/zkim/internal/searchindex"
	"github.com/cloud10922/zkim/internal/service"
	"github.com/sirupsen/logrus"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to a zkim config file (optional)")
		userID     = flag.String("user", "demo-user", "User id to encrypt/index/search as")
		platformID = flag.String("platform-key-id", "demo-platform-key", "Platform key id recorded in the header")
		inputPath  = flag.String("input", "", "Path to a file to encrypt (default: a built-in sample)")
		query      = flag.String("query", "", "Search query to run after indexing (default: derived from tags)")
		verbose    = flag.Bool("verbose", false, "Enable debug logging")
	)
	flag.Parse()

	logger := logrus.New()
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}
	log := logrus.NewEntry(logger)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("received interrupt, shutting down")
		cancel()
	}()

	if err := run(ctx, log, *configPath, *userID, *platformID, *inputPath, *query); err != nil {
		log.WithError(err).Fatal("zkimdemo failed")
	}
}

func run(ctx context.Context, log *logrus.Entry, configPath, userID, platformKeyID, inputPath, query string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	svc, err := service.New(cfg, log)
	if err != nil {
		return fmt.Errorf("construct service: %w", err)
	}
	if err := svc.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize service: %w", err)
	}
	defer func() {
		cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cleanupCancel()
		if err := svc.Cleanup(cleanupCtx); err != nil {
			log.WithError(err).Warn("cleanup failed")
		}
	}()

	content, tags, err := readInput(inputPath)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	platformKey, err := cryptokernel.RandBytes(cryptokernel.KeySize)
	if err != nil {
		return fmt.Errorf("generate platform key: %w", err)
	}
	userKey, err := cryptokernel.RandBytes(cryptokernel.KeySize)
	if err != nil {
		return fmt.Errorf("generate user key: %w", err)
	}
	log.Warn("zkimdemo generates ephemeral platform/user keys for this run only; real deployments provision these out of band")

	file, objectID, err := svc.EncryptFile(ctx, userID, platformKeyID, platformKey, userKey, content, envelope.Metadata{
		FileName: inputDisplayName(inputPath),
		MimeType: "text/plain",
		Tags:     tags,
	})
	if err != nil {
		return fmt.Errorf("encrypt file: %w", err)
	}
	log.WithField("fileId", file.Header.FileID).WithField("objectId", objectID).WithField("chunks", file.Header.ChunkCount).Info("encrypted and indexed")

	if query == "" && len(tags) > 0 {
		query = tags[0]
	}
	if query != "" {
		resp, err := svc.Search(ctx, userID, platformKey, userKey, searchindex.Query{UserID: userID, Query: query})
		if err != nil {
			return fmt.Errorf("search: %w", err)
		}
		log.WithField("query", query).WithField("totalResults", resp.TotalResults).WithField("privacyLevel", resp.PrivacyLevel).Info("search complete")
		for _, r := range resp.Results {
			log.WithField("fileId", r.FileID).WithField("relevance", r.Relevance).WithField("padding", r.IsPadding).Info("result")
		}
	}

	plaintext, err := svc.DecryptFile(ctx, objectID, userID, userKey)
	if err != nil {
		return fmt.Errorf("decrypt file: %w", err)
	}
	if string(plaintext) != string(content) {
		return fmt.Errorf("round-trip mismatch: got %d bytes, want %d", len(plaintext), len(content))
	}
	log.Info("decrypt round-trip verified")

	stats, err := svc.Stats(userID)
	if err != nil {
		return fmt.Errorf("stats: %w", err)
	}
	log.WithField("totalIndexedFiles", stats.TotalIndexedFiles).WithField("queriesThisEpoch", stats.QueriesThisEpoch).Info("search index stats")

	return nil
}

func readInput(path string) (content []byte, tags []string, err error) {
	if path == "" {
		return []byte("the quick brown fox jumps over the lazy dog"), []string{"sample", "demo"}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	return data, []string{"upload"}, nil
}

func inputDisplayName(path string) string {
	if path == "" {
		return "sample.txt"
	}
	return path
}
