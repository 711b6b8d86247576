// Command kernelctl is the kernel's interactive client: it dials a
// kerneld instance over the TCP wire protocol, sends SQL statements
// either from a single -e flag or from an interactive REPL read with
// bufio.Scanner (the teacher's own cmd/repl/main.go convention), and
// prints the returned rows as a simple aligned table.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/kernaldb/kernel/internal/wire"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "kernelctl",
	Short: "kernelctl is an interactive client for kerneld",
	Long: `kernelctl connects to a running kerneld over its TCP wire protocol.
With -e it runs a single statement and exits; otherwise it starts an
interactive shell reading statements terminated by ';'.`,
	RunE: runCtl,
}

func init() {
	rootCmd.PersistentFlags().String("addr", "127.0.0.1:5432", "kerneld TCP wire protocol address")
	rootCmd.Flags().StringP("execute", "e", "", "run a single SQL statement and exit")
}

func runCtl(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	stmt, _ := cmd.Flags().GetString("execute")

	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", addr, err)
	}
	defer conn.Close()

	c := &client{conn: conn}

	if stmt != "" {
		return c.runAndPrint(stmt)
	}
	return c.repl()
}

// client wraps one TCP connection to kerneld and the length-prefixed
// frame protocol defined in internal/wire.
type client struct {
	conn net.Conn
}

type queryPayload struct {
	SQL string `json:"sql"`
}

type resultPayload struct {
	Success      bool     `json:"success"`
	Message      string   `json:"message,omitempty"`
	Columns      []string `json:"columns,omitempty"`
	Rows         [][]any  `json:"rows,omitempty"`
	RowsAffected int64    `json:"rows_affected"`
}

func (c *client) exec(sql string) (resultPayload, error) {
	payload, err := json.Marshal(queryPayload{SQL: sql})
	if err != nil {
		return resultPayload{}, err
	}
	if err := wire.WriteFrame(c.conn, wire.Frame{Type: wire.MsgQuery, Payload: payload}); err != nil {
		return resultPayload{}, err
	}
	f, err := wire.ReadFrame(c.conn)
	if err != nil {
		return resultPayload{}, err
	}
	var rp resultPayload
	if err := json.Unmarshal(f.Payload, &rp); err != nil {
		return resultPayload{}, fmt.Errorf("decode response: %w", err)
	}
	return rp, nil
}

func (c *client) runAndPrint(sql string) error {
	rp, err := c.exec(sql)
	if err != nil {
		return err
	}
	printResult(rp)
	if !rp.Success {
		return fmt.Errorf("statement failed: %s", rp.Message)
	}
	return nil
}

// repl reads statements terminated by ';' from stdin until EOF or
// '.quit', mirroring the teacher's bufio.Scanner-driven REPL loop.
func (c *client) repl() error {
	fmt.Println("kernelctl - connected. Statements end with ';'. '.quit' to exit.")
	sc := bufio.NewScanner(os.Stdin)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var pending strings.Builder
	fmt.Print("kernel> ")
	for sc.Scan() {
		line := sc.Text()
		trimmed := strings.TrimSpace(line)
		if pending.Len() == 0 && (trimmed == ".quit" || trimmed == ".exit") {
			return nil
		}
		pending.WriteString(line)
		pending.WriteByte('\n')

		if strings.HasSuffix(trimmed, ";") {
			stmt := strings.TrimSpace(pending.String())
			pending.Reset()
			if stmt != "" {
				if err := c.runAndPrint(strings.TrimSuffix(stmt, ";")); err != nil {
					fmt.Fprintln(os.Stderr, err)
				}
			}
			fmt.Print("kernel> ")
			continue
		}
	}
	fmt.Println()
	return sc.Err()
}

func printResult(rp resultPayload) {
	if !rp.Success {
		fmt.Printf("ERROR: %s\n", rp.Message)
		return
	}
	if len(rp.Columns) == 0 {
		fmt.Printf("OK (%d rows affected)\n", rp.RowsAffected)
		return
	}

	widths := make([]int, len(rp.Columns))
	for i, col := range rp.Columns {
		widths[i] = len(col)
	}
	rendered := make([][]string, len(rp.Rows))
	for i, row := range rp.Rows {
		cells := make([]string, len(row))
		for j, v := range row {
			s := fmt.Sprintf("%v", v)
			cells[j] = s
			if len(s) > widths[j] {
				widths[j] = len(s)
			}
		}
		rendered[i] = cells
	}

	for i, col := range rp.Columns {
		fmt.Printf("%-*s  ", widths[i], col)
	}
	fmt.Println()
	for i, col := range rp.Columns {
		fmt.Printf("%-*s  ", widths[i], strings.Repeat("-", len(col)))
		_ = col
	}
	fmt.Println()
	for _, cells := range rendered {
		for j, s := range cells {
			fmt.Printf("%-*s  ", widths[j], s)
		}
		fmt.Println()
	}
	fmt.Printf("(%d rows)\n", len(rp.Rows))
}
