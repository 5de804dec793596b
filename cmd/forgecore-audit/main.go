package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	logpkg "forgecore/common/logger"
	"forgecore/common/database"
	rediscommon "forgecore/common/redis"
	"forgecore/internal/audit"
	"forgecore/internal/audit/export"
	"forgecore/internal/config"
	"forgecore/internal/repository"
	"forgecore/internal/signer"

	"github.com/spf13/cobra"
)

// 审计来源
const (
	sourcePostgres = "postgres"
	sourceRedis    = "redis"
)

// errChainInvalid 校验发现问题时的退出错误
var errChainInvalid = errors.New("audit chain verification failed")

func main() {
	rootCmd := &cobra.Command{
		Use:           "forgecore-audit",
		Short:         "Verify and export the ForgeCore safety audit chain",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().String("source", sourcePostgres, "Audit source: postgres or redis")
	rootCmd.PersistentFlags().Duration("timeout", 30*time.Second, "Timeout for reading the audit source")

	rootCmd.AddCommand(
		verifyCmd(),
		exportCmd(),
		keygenCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func verifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check hash links, canonical bytes and signatures of every entry",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var verifier audit.Verifier
			if path, _ := cmd.Flags().GetString("pubkey"); path != "" {
				v, err := signer.LoadVerifier(path)
				if err != nil {
					return err
				}
				verifier = v
			}
			return withSource(cmd, func(ctx context.Context, src audit.EntrySource) error {
				return verifyChain(ctx, src, verifier, cmd.OutOrStdout())
			})
		},
	}
	cmd.Flags().String("pubkey", "", "Base64 ed25519 public key file; signatures are not checked when empty")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the audit chain to an Excel workbook",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, _ := cmd.Flags().GetString("out")
			f, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", out, err)
			}
			defer f.Close()

			err = withSource(cmd, func(ctx context.Context, src audit.EntrySource) error {
				n, err := exportEntries(ctx, src, f)
				if err == nil {
					fmt.Fprintf(cmd.OutOrStdout(), "exported %d entries to %s\n", n, out)
				}
				return err
			})
			if err != nil {
				return err
			}
			return f.Close()
		},
	}
	cmd.Flags().String("out", "audit.xlsx", "Output workbook path")
	return cmd
}

func keygenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a software signing key for bench setups",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, _ := cmd.Flags().GetString("out")
			keyRef, err := generateKey(out, rand.Reader)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s and %s.pub (%s)\n", out, out, keyRef)
			return nil
		},
	}
	cmd.Flags().String("out", "signing.key", "Seed file path; the public key is written to <out>.pub")
	return cmd
}

// withSource 按 --source 打开审计来源并在 fn 返回后关闭连接
func withSource(cmd *cobra.Command, fn func(ctx context.Context, src audit.EntrySource) error) error {
	source, _ := cmd.Flags().GetString("source")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := logpkg.NewLogger("error", "console", "forgecore-audit")
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	switch source {
	case sourcePostgres:
		db, err := database.NewPostgresDB(&cfg.Database)
		if err != nil {
			return err
		}
		defer database.Close(db)
		return fn(ctx, repository.NewAuditEntriesRepository(db, logger))
	case sourceRedis:
		client := rediscommon.NewRedisClient(&cfg.Redis)
		defer client.Close()
		if err := rediscommon.Ping(ctx, client); err != nil {
			return err
		}
		return fn(ctx, repository.NewAuditStream(client, cfg.Audit.Stream, cfg.Audit.StreamMaxLen, logger))
	default:
		return fmt.Errorf("unknown source %q, expected %s or %s", source, sourcePostgres, sourceRedis)
	}
}

// verifyChain 校验全部条目并打印报告；发现问题时返回 errChainInvalid
func verifyChain(ctx context.Context, src audit.EntrySource, verifier audit.Verifier, w io.Writer) error {
	entries, err := src.Entries(ctx)
	if err != nil {
		return fmt.Errorf("failed to read audit entries: %w", err)
	}

	report := audit.VerifyChain(entries, verifier)
	fmt.Fprintf(w, "entries=%d signed=%d unsigned=%d problems=%d\n",
		report.Total, report.Signed, report.Unsigned, len(report.Problems))
	if verifier == nil && report.Signed > 0 {
		fmt.Fprintln(w, "warning: signatures not checked, pass --pubkey")
	}
	for _, p := range report.Problems {
		fmt.Fprintln(w, "  "+p.Error())
	}
	if !report.OK() {
		return errChainInvalid
	}
	return nil
}

// exportEntries 导出全部条目为 xlsx
func exportEntries(ctx context.Context, src audit.EntrySource, w io.Writer) (int, error) {
	entries, err := src.Entries(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read audit entries: %w", err)
	}
	if err := export.WriteXLSX(w, entries); err != nil {
		return 0, err
	}
	return len(entries), nil
}

// generateKey 写入 base64 种子与公钥，返回公钥指纹
func generateKey(path string, random io.Reader) (string, error) {
	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(random, seed); err != nil {
		return "", fmt.Errorf("failed to generate seed: %w", err)
	}
	pub := ed25519.NewKeyFromSeed(seed).Public().(ed25519.PublicKey)

	if err := os.WriteFile(path, []byte(base64.StdEncoding.EncodeToString(seed)+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("failed to write seed: %w", err)
	}
	if err := os.WriteFile(path+".pub", []byte(base64.StdEncoding.EncodeToString(pub)+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("failed to write public key: %w", err)
	}
	return signer.KeyRef(pub), nil
}
