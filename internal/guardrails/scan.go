// Package guardrails scans the files headed into an image for credentials.
// Everything the build context ships ends up in a container layer, where a
// forgotten .env or key file outlives the laptop it leaked from.
package guardrails

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/lbekk/stagemill/internal/logs"
)

// Filenames that suggest credentials regardless of content.
var sensitiveFilenames = []string{
	"id_rsa", "id_dsa", "id_ecdsa", "id_ed25519",
	"credentials.json", "auth.json", "vault.json",
	"secrets", "apikey", "api_key", "access_token", "refresh_token",
	"aws_credentials", "gcloud.json", "netrc",
	".env", ".env.production", ".env.development", ".env.staging", ".env.prod",
	".pypirc", ".npmrc", ".dockercfg", ".dockerconfigjson",
	".git-credentials", ".git_token", ".github_token",
	"kubeconfig", "kube_config.yaml", ".vault-token",
}

var sensitiveContentRegexps = []*regexp.Regexp{
	// private keys / SSH
	regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----`),
	regexp.MustCompile(`ssh-(rsa|ed25519|dss) `),

	// GitHub / GitLab
	regexp.MustCompile(`gh[pousr]_[A-Za-z0-9]{36}`),
	regexp.MustCompile(`glpat-[A-Za-z0-9\-]{20,}`),

	// Stripe
	regexp.MustCompile(`sk_live_[0-9A-Za-z]{24}`),
	regexp.MustCompile(`rk_live_[0-9A-Za-z]{24}`),

	// Slack
	regexp.MustCompile(`xox[baprs]-[0-9A-Za-z]{10,48}`),

	// AWS
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
	regexp.MustCompile(`(?i)aws(.{0,20})?(secret|key)[^A-Za-z0-9]{0,3}[A-Za-z0-9/+]{40}`),

	// Google / GCP
	regexp.MustCompile(`AIza[0-9A-Za-z\-_]{35}`),

	// OpenAI / Anthropic / Hugging Face
	regexp.MustCompile(`\bsk-[A-Za-z0-9]{32,}\b`),
	regexp.MustCompile(`\bsk-ant-[A-Za-z0-9\-_]{20,}\b`),
	regexp.MustCompile(`\bhf_[A-Za-z0-9]{30,}\b`),

	// database connection strings with inline credentials
	regexp.MustCompile(`(?i)\b(postgres(ql)?|mysql|mongodb(\+srv)?|redis)://[^ \n'"]*:[^ \n'"]*@`),

	// JWTs (real 3-part only)
	regexp.MustCompile(`eyJ[A-Za-z0-9_-]{20,}\.[A-Za-z0-9_-]{20,}\.[A-Za-z0-9_-]{20,}`),
}

// skipDir matches the directories the build context also drops, so the scan
// covers exactly what ships.
func skipDir(name string) bool {
	return name == "__pycache__" || name == ".git"
}

const maxFileSizeForScan = 5 * 1024 * 1024 // 5 MB

// Finding is one flagged file.
type Finding struct {
	Path    string
	Reason  string
	Context []string
}

var ErrScanCanceled = errors.New("scan canceled")

// Scan walks the context paths (project-relative, like the build include
// list) and reports files that look like they carry credentials.
func Scan(ctx context.Context, projectDir string, relPaths ...string) ([]*Finding, error) {
	findings := []*Finding{}

	tail := logs.NewTailBox("secrets scan")
	defer tail.Close()

	for _, rel := range relPaths {
		root := filepath.Join(projectDir, rel)

		err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return nil // unreadable paths don't ship either
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ErrScanCanceled
			}

			if d.IsDir() {
				if skipDir(filepath.Base(path)) {
					return filepath.SkipDir
				}
				return nil
			}

			tail.Printf("scanning %s", path)

			if f := checkFilename(path); f != nil {
				findings = append(findings, f)
				return nil
			}

			info, err := d.Info()
			if err != nil || info.Size() > maxFileSizeForScan {
				return nil
			}

			if f := checkContent(path); f != nil {
				findings = append(findings, f)
			}
			return nil
		})
		if err != nil {
			return findings, err
		}
	}

	return findings, nil
}

func checkFilename(path string) *Finding {
	lower := strings.ToLower(filepath.Base(path))
	for _, name := range sensitiveFilenames {
		if strings.Contains(lower, name) {
			return &Finding{
				Path:   path,
				Reason: "filename suggests credentials",
			}
		}
	}
	return nil
}

func checkContent(path string) *Finding {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFileSizeForScan)

	previousLine := ""
	for scanner.Scan() {
		line := scanner.Text()
		if !utf8.ValidString(line) {
			continue
		}
		for _, re := range sensitiveContentRegexps {
			if !re.MatchString(line) {
				continue
			}

			nextLine := ""
			if scanner.Scan() && utf8.ValidString(scanner.Text()) {
				nextLine = scanner.Text()
			}

			return &Finding{
				Path:    path,
				Reason:  fmt.Sprintf("content matches %s", re.String()),
				Context: []string{previousLine, line, nextLine},
			}
		}
		previousLine = line
	}
	return nil
}
