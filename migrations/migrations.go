// Package migrations embeds the schema files applied by the migrate command.
package migrations

import (
	"embed"
	"strings"
)

//go:embed *.sql clickhouse/*.sql
var files embed.FS

// MySQL returns the MySQL schema script.
func MySQL() (string, error) { return read("001_init.sql") }

// MySQLDrop returns the script that removes every table (dev reset).
func MySQLDrop() (string, error) { return read("000_drop.sql") }

// ClickHouse returns the ClickHouse statements one by one; the driver runs a
// single statement per Exec.
func ClickHouse() ([]string, error) {
	s, err := read("clickhouse/001_init.sql")
	if err != nil {
		return nil, err
	}
	return Split(s), nil
}

func read(name string) (string, error) {
	b, err := files.ReadFile(name)
	return string(b), err
}

// Split breaks a script on semicolons, dropping blanks and comment-only chunks.
func Split(script string) []string {
	var out []string
	for _, stmt := range strings.Split(script, ";") {
		var lines []string
		for _, l := range strings.Split(stmt, "\n") {
			if t := strings.TrimSpace(l); t != "" && !strings.HasPrefix(t, "--") {
				lines = append(lines, l)
			}
		}
		if len(lines) > 0 {
			out = append(out, strings.TrimSpace(strings.Join(lines, "\n")))
		}
	}
	return out
}
