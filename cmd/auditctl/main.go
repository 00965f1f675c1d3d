// auditctl prints statistics over a submitd audit log. It is the manual
// inspection companion to the daemon and only ever reads the file.
package main

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/emissions-network/submitx/pkg/audit"
)

func main() {
	var (
		path     string
		statuses string
		since    time.Duration
	)
	flag.StringVar(&path, "audit", "audit/submissions.csv", "path to the audit log")
	flag.StringVar(&statuses, "status", "", "comma-separated status filter")
	flag.DurationVar(&since, "since", 0, "only include records newer than this age")
	flag.Parse()

	log, err := audit.Open(path, zap.NewNop())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Close()

	filter := audit.Filter{}
	if statuses != "" {
		for _, s := range strings.Split(statuses, ",") {
			filter.Statuses = append(filter.Statuses, audit.Status(strings.TrimSpace(s)))
		}
	}
	if since > 0 {
		filter.From = time.Now().Add(-since)
	}

	stats, err := log.Stats(filter)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	fmt.Printf("records: %d\n", stats.Total)
	if !stats.LastAttempt.IsZero() {
		fmt.Printf("last attempt: %s\n", stats.LastAttempt.Format(time.RFC3339))
	}
	fmt.Printf("success rate: %.1f%%\n", stats.SuccessRate*100)

	fmt.Println("by status:")
	for _, k := range sortedKeys(stats.ByStatus) {
		fmt.Printf("  %-22s %d\n", k, stats.ByStatus[audit.Status(k)])
	}
	fmt.Println("by endpoint:")
	keys := make([]string, 0, len(stats.ByEndpoint))
	for k := range stats.ByEndpoint {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %-40s %d\n", k, stats.ByEndpoint[k])
	}
}

func sortedKeys(m map[audit.Status]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	return keys
}
