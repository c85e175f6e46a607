package main

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"av-go/internal/app"
	"av-go/internal/av"
	"av-go/internal/config"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an AVApp. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "Upload", "Enforce").
func newApp(cmd *cobra.Command, operation string) (*app.AVApp, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewAVApp(cmd.Context(), cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

// readPassphrase prompts for a passphrase without echoing it.
func readPassphrase(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	data, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(data), nil
}

var rootCmd = &cobra.Command{
	Use:   "av",
	Short: "Attachment vault with content-addressed storage and retention",
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"])

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Base Dir:   %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:    %s\n", cfg.LogDir)
		fmt.Printf("Database:   %s\n", cfg.Database.Type)
		fmt.Printf("Blob Store: %s\n", cfg.BlobStore.Type)
		return nil
	},
}

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage encryption keys",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate encryption key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "SetupKeys")
		if err != nil {
			return err
		}
		defer a.Close()

		if a.EncryptionConfigured() {
			return fmt.Errorf("encryption keys already exist")
		}

		pass, err := readPassphrase("Passphrase: ")
		if err != nil {
			return err
		}
		confirm, err := readPassphrase("Confirm passphrase: ")
		if err != nil {
			return err
		}
		if pass != confirm {
			return fmt.Errorf("passphrases do not match")
		}

		if err := a.SetupKeys(pass); err != nil {
			return fmt.Errorf("generating keys: %w", err)
		}

		fmt.Println("Encryption keys generated. New uploads will be encrypted.")
		return nil
	},
}

// upload command
var uploadCmd = &cobra.Command{
	Use:   "upload FILE",
	Short: "Upload a file and link it to an entity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		entityType, _ := cmd.Flags().GetString("entity-type")
		entityID, _ := cmd.Flags().GetInt64("entity-id")
		name, _ := cmd.Flags().GetString("name")
		contentType, _ := cmd.Flags().GetString("content-type")
		actor, _ := cmd.Flags().GetString("by")
		tenant, _ := cmd.Flags().GetString("tenant")
		reason, _ := cmd.Flags().GetString("reason")
		notes, _ := cmd.Flags().GetString("notes")
		policy, _ := cmd.Flags().GetString("policy")
		deleteMode, _ := cmd.Flags().GetString("delete-mode")
		retainUntil, _ := cmd.Flags().GetString("retain-until")

		req := av.UploadRequest{
			EntityType:  entityType,
			EntityID:    entityID,
			DisplayName: name,
			ContentType: contentType,
			UploadedBy:  actor,
			TenantID:    tenant,
			Reason:      reason,
			Notes:       notes,
			PolicyName:  policy,
			DeleteMode:  deleteMode,
		}
		if retainUntil != "" {
			until, err := time.Parse("2006-01-02", retainUntil)
			if err != nil {
				return fmt.Errorf("parsing retain-until: %w", err)
			}
			req.RetainUntil = &until
		}

		a, err := newApp(cmd, "Upload")
		if err != nil {
			return err
		}
		defer a.Close()

		outcome, err := a.Upload(cmd.Context(), args[0], req)
		if err != nil {
			return fmt.Errorf("upload failed: %w", err)
		}

		if outcome.Deduplicated {
			fmt.Printf("Deduplicated against %s\n", outcome.Existing.ID)
		} else {
			fmt.Printf("Stored %s\n", outcome.Attachment.ID)
		}
		fmt.Printf("Digest: %s\n", outcome.Digest)
		fmt.Printf("Size:   %d\n", outcome.Length)
		fmt.Printf("Link:   %s -> %s:%d\n", outcome.Link.ID, outcome.Link.EntityType, outcome.Link.EntityID)
		return nil
	},
}

// download command
var downloadCmd = &cobra.Command{
	Use:   "download ID [OUT]",
	Short: "Download attachment content",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		offset, _ := cmd.Flags().GetInt64("offset")
		length, _ := cmd.Flags().GetInt64("length")
		actor, _ := cmd.Flags().GetString("by")
		reason, _ := cmd.Flags().GetString("reason")
		decrypt, _ := cmd.Flags().GetBool("decrypt")

		out := "-"
		if len(args) > 1 {
			out = args[1]
		}

		req := av.ReadRequest{
			RequestedBy: actor,
			Reason:      reason,
		}
		if cmd.Flags().Changed("offset") || cmd.Flags().Changed("length") {
			req.Range = &av.ByteRange{Offset: offset, Length: length}
		}

		a, err := newApp(cmd, "Download")
		if err != nil {
			return err
		}
		defer a.Close()

		if decrypt {
			pass, err := readPassphrase("Passphrase: ")
			if err != nil {
				return err
			}
			dctx, err := a.Unlock(pass)
			if err != nil {
				return fmt.Errorf("unlocking keys: %w", err)
			}
			req.Decrypt = dctx
		}

		result, err := a.Download(cmd.Context(), args[0], out, req)
		if err != nil {
			return fmt.Errorf("download failed: %w", err)
		}

		if out != "-" {
			fmt.Printf("Wrote %d byte(s) to %s\n", result.BytesWritten, out)
		}
		return nil
	},
}

// links command
var linksCmd = &cobra.Command{
	Use:   "links ENTITY_TYPE ENTITY_ID",
	Short: "List attachments linked to an entity",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var entityID int64
		if _, err := fmt.Sscanf(args[1], "%d", &entityID); err != nil {
			return fmt.Errorf("parsing entity id: %w", err)
		}

		a, err := newApp(cmd, "Links")
		if err != nil {
			return err
		}
		defer a.Close()

		links, err := a.Links(cmd.Context(), args[0], entityID)
		if err != nil {
			return err
		}

		if len(links) == 0 {
			fmt.Println("No attachments linked.")
			return nil
		}

		for _, l := range links {
			fmt.Printf("%s  %s  %s  %d  %s\n",
				l.Link.ID,
				l.Attachment.ID,
				l.Attachment.FileName,
				l.Attachment.Length,
				l.Link.LinkedAt.Format("2006-01-02 15:04:05"),
			)
		}
		return nil
	},
}

// unlink command
var unlinkCmd = &cobra.Command{
	Use:   "unlink LINK_ID",
	Short: "Remove an attachment link",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		actor, _ := cmd.Flags().GetString("by")

		a, err := newApp(cmd, "Unlink")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Unlink(cmd.Context(), args[0], actor); err != nil {
			return fmt.Errorf("unlink failed: %w", err)
		}

		fmt.Println("Link removed.")
		return nil
	},
}

// find command
var findCmd = &cobra.Command{
	Use:   "find DIGEST",
	Short: "Find an attachment by SHA-256 digest",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		length := int64(-1)
		if cmd.Flags().Changed("length") {
			length, _ = cmd.Flags().GetInt64("length")
		}

		a, err := newApp(cmd, "Find")
		if err != nil {
			return err
		}
		defer a.Close()

		att, err := a.Find(cmd.Context(), args[0], length)
		if err != nil {
			return err
		}
		if att == nil {
			fmt.Println("Not found.")
			return nil
		}

		fmt.Printf("%s  %s  %d  %s\n", att.ID, att.FileName, att.Length, att.Status)
		return nil
	},
}

// list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List attachments",
	RunE: func(cmd *cobra.Command, args []string) error {
		entityType, _ := cmd.Flags().GetString("entity-type")
		contentType, _ := cmd.Flags().GetString("content-type")
		search, _ := cmd.Flags().GetString("search")

		a, err := newApp(cmd, "List")
		if err != nil {
			return err
		}
		defer a.Close()

		atts, err := a.List(cmd.Context(), av.SummaryFilter{
			EntityType:  entityType,
			ContentType: contentType,
			Search:      search,
		})
		if err != nil {
			return err
		}

		if len(atts) == 0 {
			fmt.Println("No attachments.")
			return nil
		}

		for _, att := range atts {
			status := att.Status
			if att.Deleted {
				status += " (deleted)"
			}
			fmt.Printf("%s  %-30s  %10d  %-12s  %s\n",
				att.ID,
				att.FileName,
				att.Length,
				status,
				att.UploadedAt.Format("2006-01-02 15:04:05"),
			)
		}
		return nil
	},
}

// retention command
var retentionCmd = &cobra.Command{
	Use:   "retention",
	Short: "Manage retention policies",
}

var retentionBackfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Assign the default policy to attachments without one",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "Backfill")
		if err != nil {
			return err
		}
		defer a.Close()

		count, err := a.BackfillRetention(cmd.Context())
		if err != nil {
			return fmt.Errorf("backfill failed: %w", err)
		}

		fmt.Printf("Assigned default policy to %d attachment(s)\n", count)
		return nil
	},
}

var retentionEnforceCmd = &cobra.Command{
	Use:   "enforce",
	Short: "Run a retention enforcement sweep",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "Enforce")
		if err != nil {
			return err
		}
		defer a.Close()

		summary, err := a.EnforceRetention(cmd.Context())
		if err != nil {
			return fmt.Errorf("enforcement failed: %w", err)
		}

		fmt.Printf("Soft deletes:    %d\n", summary.SoftDeletes)
		fmt.Printf("Hard purges:     %d\n", summary.HardPurges)
		fmt.Printf("Hold notices:    %d\n", summary.HoldNotices)
		fmt.Printf("Review notices:  %d\n", summary.ReviewNotices)
		fmt.Printf("Already deleted: %d\n", summary.AlreadyDeleted)
		return nil
	},
}

// audit command
var auditCmd = &cobra.Command{
	Use:   "audit ENTITY_TYPE ENTITY_ID",
	Short: "View audit trail for an entity",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		var entityID int64
		if _, err := fmt.Sscanf(args[1], "%d", &entityID); err != nil {
			return fmt.Errorf("parsing entity id: %w", err)
		}

		a, err := newApp(cmd, "Audit")
		if err != nil {
			return err
		}
		defer a.Close()

		entries, err := a.AuditTrail(cmd.Context(), args[0], entityID, limit)
		if err != nil {
			return err
		}

		if len(entries) == 0 {
			fmt.Println("No audit entries.")
			return nil
		}

		for _, e := range entries {
			fmt.Printf("%s  %-20s  %-10s  %s\n",
				e.At.Format("2006-01-02 15:04:05"),
				e.Action,
				e.Actor,
				e.Description,
			)
		}
		return nil
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// keys subcommands
	keysCmd.AddCommand(keysInitCmd)

	// retention subcommands
	retentionCmd.AddCommand(retentionBackfillCmd)
	retentionCmd.AddCommand(retentionEnforceCmd)

	uploadCmd.Flags().String("entity-type", "", "Entity type to link to (required)")
	uploadCmd.Flags().Int64("entity-id", 0, "Entity ID to link to (required)")
	uploadCmd.Flags().String("name", "", "Display name (defaults to file name)")
	uploadCmd.Flags().String("content-type", "", "MIME content type")
	uploadCmd.Flags().String("by", "", "Actor performing the upload")
	uploadCmd.Flags().String("tenant", "", "Tenant ID")
	uploadCmd.Flags().String("reason", "", "Reason recorded in the audit trail")
	uploadCmd.Flags().String("notes", "", "Free-text notes")
	uploadCmd.Flags().String("policy", "", "Retention policy name")
	uploadCmd.Flags().String("delete-mode", "", "Retention delete mode: soft or hard")
	uploadCmd.Flags().String("retain-until", "", "Retention date (YYYY-MM-DD)")
	uploadCmd.MarkFlagRequired("entity-type")
	uploadCmd.MarkFlagRequired("entity-id")

	downloadCmd.Flags().Int64("offset", 0, "Byte offset to start from")
	downloadCmd.Flags().Int64("length", 0, "Number of bytes to read (0 = to end)")
	downloadCmd.Flags().String("by", "", "Actor performing the download")
	downloadCmd.Flags().String("reason", "", "Reason recorded in the audit trail")
	downloadCmd.Flags().Bool("decrypt", false, "Unlock keys to decrypt content")

	unlinkCmd.Flags().String("by", "", "Actor removing the link")

	findCmd.Flags().Int64("length", 0, "Match file size as well as digest")

	listCmd.Flags().String("entity-type", "", "Only attachments linked to this entity type")
	listCmd.Flags().String("content-type", "", "Only attachments with this content type")
	listCmd.Flags().String("search", "", "Match against name and file name")

	auditCmd.Flags().IntP("limit", "n", 50, "Maximum number of entries to show")

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(linksCmd)
	rootCmd.AddCommand(unlinkCmd)
	rootCmd.AddCommand(findCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(retentionCmd)
	rootCmd.AddCommand(auditCmd)
}
