package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/solatis/meterkeeper/internal/client"
	"github.com/solatis/meterkeeper/internal/core/config"
	"github.com/solatis/meterkeeper/internal/draft"
	"github.com/solatis/meterkeeper/internal/types"
	"github.com/solatis/meterkeeper/internal/unique"
	"github.com/solatis/meterkeeper/internal/wizard"
)

var draftCmd = &cobra.Command{
	Use:   "draft",
	Short: "Edit metrics and customers against a running server",
}

var draftApplyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Walk YAML documents through the entity wizard",
	Long: `Each document is replayed step by step: its fields are set on the step
that owns them, the draft is saved when the step advances, and with
finalize: true the entity is finalized at review. A document with an id
resumes that draft.`,
	RunE: runDraftApply,
}

func init() {
	rootCmd.AddCommand(draftCmd)
	draftCmd.AddCommand(draftApplyCmd)
	draftApplyCmd.Flags().StringP("file", "f", "-", "YAML file, - for stdin")
	draftApplyCmd.Flags().String("server", "", "server base URL (default client.base_url)")
	draftApplyCmd.Flags().String("cache-dir", "", "session cache directory (default <data_dir>/drafts)")
	draftApplyCmd.Flags().Bool("no-cache", false, "do not persist sessions between runs")
}

func runDraftApply(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("server") {
		cfg.Client.BaseURL, _ = cmd.Flags().GetString("server")
	}
	apiKey := config.APIKey()
	if apiKey == "" {
		return fmt.Errorf("no API key (set %s_API_KEY)", config.EnvPrefix)
	}

	path, _ := cmd.Flags().GetString("file")
	var in io.Reader = cmd.InOrStdin()
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	docs, err := wizard.ReadDocuments(in)
	if err != nil {
		return err
	}

	c, err := client.New(client.Config{
		BaseURL: cfg.Client.BaseURL,
		APIKey:  apiKey,
		Timeout: cfg.Client.Timeout,
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	resolver, err := loadResolver(cfg)
	if err != nil {
		return err
	}

	var cache draft.Cache
	if noCache, _ := cmd.Flags().GetBool("no-cache"); !noCache {
		dir, _ := cmd.Flags().GetString("cache-dir")
		if dir == "" {
			dir = filepath.Join(cfg.Server.DataDir, "drafts")
		}
		fc, err := draft.NewFileCache(dir)
		if err != nil {
			return err
		}
		cache = fc
	}

	checker := unique.NewChecker(c)
	for i, doc := range docs {
		form, err := draft.NewForm(doc.Kind, resolver, policy(cfg))
		if err != nil {
			return err
		}
		mgr := draft.NewManager(c, form, draft.Config{
			Logger:   logger,
			Cache:    cache,
			CacheKey: cacheKey(doc),
			Checker:  checker,
			Debounce: cfg.Validator.Debounce,
		})
		err = applyDocument(cmd, c, mgr, doc)
		mgr.Close()
		if err != nil {
			return fmt.Errorf("document %d: %w", i+1, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", doc.Kind, mgr.ID(), mgr.Status())
	}
	return nil
}

func applyDocument(cmd *cobra.Command, c *client.Client, mgr *draft.Manager, doc wizard.Document) error {
	ctx := cmd.Context()
	restored, err := mgr.Restore()
	if err != nil {
		return err
	}
	switch {
	case restored && (doc.ID == "" || doc.ID == mgr.ID()):
		logger.Info("resuming cached session", "kind", doc.Kind, "id", mgr.ID())
	case doc.ID != "":
		rec, err := c.Get(ctx, doc.Kind, doc.ID)
		if err != nil {
			return err
		}
		if err := mgr.Initialize(rec); err != nil {
			return err
		}
	default:
		if err := mgr.Initialize(nil); err != nil {
			return err
		}
	}

	w, err := wizard.New(mgr, logger)
	if err != nil {
		return err
	}
	err = w.Play(ctx, doc)
	var ve *types.ValidationError
	if errors.As(err, &ve) {
		for f, msg := range ve.Errors {
			fmt.Fprintf(cmd.ErrOrStderr(), "  %s: %s\n", f, msg)
		}
	}
	return err
}

func cacheKey(doc wizard.Document) string {
	if doc.ID != "" {
		return string(doc.Kind) + "-" + string(doc.ID)
	}
	return string(doc.Kind)
}
