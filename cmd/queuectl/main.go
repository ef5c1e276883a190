// cmd/queuectl is the CLI entry-point built with Cobra.
//
// Usage:
//
//	queuectl offer /jobs "hello world"            --server http://localhost:8080
//	queuectl peek /jobs --wait 5000
//	queuectl poll /jobs
//	queuectl take /jobs --wait 0
//	queuectl offer-and-wait /rpc "ping" --timeout 5000
//	queuectl stats
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"distributed-zk-queue/internal/queueclient"

	"github.com/spf13/cobra"
)

var (
	serverAddr string
	timeout    time.Duration
)

func main() {
	root := &cobra.Command{
		Use:   "queuectl",
		Short: "CLI client for the distributed work queue",
	}

	root.PersistentFlags().StringVarP(&serverAddr, "server", "s",
		"http://localhost:8080", "queueserver address")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second,
		"HTTP request timeout")

	root.AddCommand(offerCmd(), peekCmd(), pollCmd(), takeCmd(), offerAndWaitCmd(), statsCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func offerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "offer <dir> <payload>",
		Short: "Submit a payload to a queue directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := queueclient.New(serverAddr, timeout)
			p, err := c.Offer(context.Background(), args[0], []byte(args[1]))
			if err != nil {
				return err
			}
			fmt.Println(p)
			return nil
		},
	}
}

func peekCmd() *cobra.Command {
	var wait int64
	cmd := &cobra.Command{
		Use:   "peek <dir>",
		Short: "Return the head payload without removing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := queueclient.New(serverAddr, timeout)
			data, found, err := c.Peek(context.Background(), args[0], wait)
			if err != nil {
				return err
			}
			return printResult(data, found)
		},
	}
	cmd.Flags().Int64Var(&wait, "wait", 0, "milliseconds to block for an element (0 = no wait)")
	return cmd
}

func pollCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "poll <dir>",
		Short: "Remove and return the head, non-blocking",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := queueclient.New(serverAddr, timeout)
			data, found, err := c.Poll(context.Background(), args[0])
			if err != nil {
				return err
			}
			return printResult(data, found)
		},
	}
}

func takeCmd() *cobra.Command {
	var wait int64
	cmd := &cobra.Command{
		Use:   "take <dir>",
		Short: "Remove and return the head, blocking until one appears",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := queueclient.New(serverAddr, timeout)
			data, found, err := c.Take(context.Background(), args[0], wait)
			if err != nil {
				return err
			}
			return printResult(data, found)
		},
	}
	cmd.Flags().Int64Var(&wait, "wait", 0, "milliseconds to block (0 = block until the server's request context ends)")
	return cmd
}

func offerAndWaitCmd() *cobra.Command {
	var waitTimeout int64
	cmd := &cobra.Command{
		Use:   "offer-and-wait <dir> <payload>",
		Short: "Submit a request and block for its reply",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := queueclient.New(serverAddr, timeout)
			reply, err := c.OfferAndWait(context.Background(), args[0], []byte(args[1]), waitTimeout)
			if err != nil {
				return err
			}
			fmt.Println(string(reply))
			return nil
		},
	}
	cmd.Flags().Int64Var(&waitTimeout, "timeout", 0, "milliseconds to wait for a reply (0 = wait forever)")
	return cmd
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print the server's liveness and queue-length snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := queueclient.New(serverAddr, timeout)
			body, err := c.Healthz(context.Background())
			if err != nil {
				return err
			}
			fmt.Println(body)
			return nil
		},
	}
}

func printResult(data []byte, found bool) error {
	if !found {
		fmt.Println("(empty)")
		return nil
	}
	fmt.Println(string(data))
	return nil
}
