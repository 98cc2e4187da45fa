package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Jobs the server exposes under /api/cron. cronfire exists so crontab
// deployments can trigger them without carrying curl incantations around:
//
//	*/15 * * * * cronfire calendar-sync
//	0 3 * * *   cronfire deletion-sweep token-cleanup
var knownJobs = []string{"deletion-sweep", "token-cleanup", "calendar-sync", "reminders"}

func main() {
	_ = godotenv.Load()

	var baseURL, secret string
	var timeout time.Duration
	flag.StringVar(&baseURL, "base-url", envDefault("HEARTHSIDE_BASE_URL", "http://localhost:8080"), "server base URL")
	flag.StringVar(&secret, "secret", os.Getenv("CRON_SECRET"), "cron endpoint secret")
	flag.DurationVar(&timeout, "timeout", 5*time.Minute, "per-job HTTP timeout")
	flag.Parse()

	jobs := flag.Args()
	if len(jobs) == 0 {
		fmt.Fprintf(os.Stderr, "usage: cronfire [flags] job...\njobs: %s\n", strings.Join(knownJobs, ", "))
		os.Exit(2)
	}
	for _, job := range jobs {
		if !known(job) {
			fmt.Fprintf(os.Stderr, "cronfire: unknown job %q (want one of: %s)\n", job, strings.Join(knownJobs, ", "))
			os.Exit(2)
		}
	}
	if secret == "" {
		fmt.Fprintln(os.Stderr, "cronfire: CRON_SECRET is not set")
		os.Exit(2)
	}

	client := &http.Client{Timeout: timeout}
	failed := false
	for _, job := range jobs {
		if err := fire(client, baseURL, secret, job); err != nil {
			fmt.Fprintf(os.Stderr, "cronfire: %s: %v\n", job, err)
			failed = true
		}
	}
	if failed {
		os.Exit(1)
	}
}

func fire(client *http.Client, baseURL, secret, job string) error {
	url := strings.TrimRight(baseURL, "/") + "/api/cron/" + job
	req, err := http.NewRequest(http.MethodPost, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+secret)

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	fmt.Printf("%s: %s\n", job, strings.TrimSpace(string(body)))
	return nil
}

func known(job string) bool {
	for _, j := range knownJobs {
		if j == job {
			return true
		}
	}
	return false
}

func envDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
