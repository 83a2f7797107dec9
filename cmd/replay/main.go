// replay prints interaction logs written by the server, optionally
// filtered by session, command type, or record kind.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	persistlog "blockworld.ai/internal/persistence/log"
)

func main() {
	var (
		dir     = flag.String("logs", "./logs", "interaction log directory")
		session = flag.String("session", "", "only this session id")
		kind    = flag.String("kind", "", "only this record kind (command|update)")
		cmdType = flag.String("type", "", "only this command type (move, grip, ...)")
		raw     = flag.Bool("raw", false, "dump full JSON records")
	)
	flag.Parse()

	files, err := persistlog.ListFiles(*dir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list logs:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no log files in", *dir)
		os.Exit(1)
	}

	var commands, applied, updatesN int
	for _, path := range files {
		err := persistlog.ReadFile(path, func(rec persistlog.Record) error {
			if *kind != "" && rec.Kind != *kind {
				return nil
			}
			switch rec.Kind {
			case persistlog.KindCommand:
				c := rec.Command
				if c == nil {
					return nil
				}
				if *session != "" && c.SessionID != *session {
					return nil
				}
				if *cmdType != "" && c.Type != *cmdType {
					return nil
				}
				commands++
				if c.Applied {
					applied++
				}
				if *raw {
					b, _ := json.Marshal(rec)
					fmt.Println(string(b))
					return nil
				}
				outcome := "refused"
				if c.Applied {
					outcome = "applied"
				}
				if c.Code != "" {
					outcome = c.Code
				}
				fmt.Printf("%s command %-14s session=%s %s\n",
					c.Time.Format(time.RFC3339), c.Type, c.SessionID, outcome)

			case persistlog.KindUpdate:
				if *session != "" || *cmdType != "" {
					return nil
				}
				u := rec.Update
				if u == nil {
					return nil
				}
				updatesN++
				if *raw {
					b, _ := json.Marshal(rec)
					fmt.Println(string(b))
					return nil
				}
				fmt.Printf("%s update  grippers=%d objs=%d config=%v\n",
					rec.Time.Format(time.RFC3339), len(u.Grippers), len(u.Objs), u.Config)
			}
			return nil
		})
		if err != nil {
			fmt.Fprintln(os.Stderr, "read:", err)
			os.Exit(1)
		}
	}
	fmt.Printf("%d commands (%d applied), %d update batches, %d files\n",
		commands, applied, updatesN, len(files))
}
