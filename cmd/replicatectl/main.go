// Command replicatectl sends client requests to a replicate node.
//
// Usage:
//
//	replicatectl [-addr host:port] set KEY VALUE
//	replicatectl [-addr host:port] get KEY
//	replicatectl [-addr host:port] cas KEY EXPECTED|- NEW
//
// An EXPECTED of "-" expects the key to have no value.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"replicate/internal/client"
	"replicate/internal/command"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:7000", "address of the node")
	timeout := flag.Duration("timeout", 10*time.Second, "request timeout")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	c := client.New(*addr)
	defer c.Close()

	if err := run(ctx, c, flag.Args()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, c *client.Client, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: replicatectl set|get|cas ...")
	}

	switch cmd, args := args[0], args[1:]; cmd {
	case "set":
		if len(args) != 2 {
			return fmt.Errorf("usage: replicatectl set KEY VALUE")
		}
		value, err := c.SetValue(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Println(value)
	case "get":
		if len(args) != 1 {
			return fmt.Errorf("usage: replicatectl get KEY")
		}
		value, found, err := c.GetValue(ctx, args[0])
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%s: not found", args[0])
		}
		fmt.Println(value)
	case "cas":
		if len(args) != 3 {
			return fmt.Errorf("usage: replicatectl cas KEY EXPECTED|- NEW")
		}
		var expected *string
		if args[1] != "-" {
			expected = &args[1]
		}
		resp, err := c.Execute(ctx, command.NewCompareAndSwap(args[0], expected, args[2]))
		if err != nil {
			return err
		}
		previous := "-"
		if resp.PreviousValue != nil {
			previous = *resp.PreviousValue
		}
		fmt.Printf("committed=%v previous=%s\n", resp.Committed, previous)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}
