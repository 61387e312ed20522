// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/lpf2/pkg/lpf2"
)

var (
	rawLogPolls   int
	rawLogMode    int
	rawLogTimeout int
)

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display the raw handshake and poll traffic",
	Long: `Reset the device and decode every frame of its handshake as it arrives,
without building a mode table.

With --polls, the command acknowledges the handshake, switches to the data
rate, selects --mode and sends that many keep-alive polls, printing each raw
reply next to its decoded frame. Useful for diagnosing wiring, baud rate and
checksum problems that the higher level commands only count.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
	rawLogCmd.Flags().IntVar(&rawLogPolls, "polls", 0, "Number of polls to send after the handshake")
	rawLogCmd.Flags().IntVar(&rawLogMode, "mode", 0, "Mode to select before polling")
	rawLogCmd.Flags().IntVar(&rawLogTimeout, "timeout", 10, "Handshake timeout in seconds")
}

func runRawLog(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	tr, connInfo, err := OpenTransport(ctx, config.Connection)
	if err != nil {
		return err
	}
	defer tr.Close()

	fmt.Printf("lpf2 - Raw Frame Log\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	if err := tr.Configure(lpf2.BaudHandshake, lpf2.DefaultHandshakeReadWait); err != nil {
		return err
	}
	if _, err := tr.ReadAvailable(); err != nil {
		return err
	}
	if err := tr.SetEnable(true); err != nil {
		return err
	}
	defer tr.SetEnable(false)
	if err := tr.SetProbe(true); err != nil {
		return err
	}

	hctx, cancel := context.WithTimeout(ctx, time.Duration(rawLogTimeout)*time.Second)
	defer cancel()
	frames, err := logHandshake(hctx, tr)
	if err != nil {
		return fmt.Errorf("handshake after %d frames: %w", frames, err)
	}
	fmt.Printf("\nHandshake complete: %d frames\n", frames)

	if rawLogPolls <= 0 {
		return nil
	}
	return logPolls(ctx, tr, rawLogMode, rawLogPolls)
}

// logHandshake prints decoded frames until the device sends ACK.
func logHandshake(ctx context.Context, tr lpf2.Transport) (int, error) {
	decoder := lpf2.NewDecoder()
	frames := 0

	for {
		buf, err := tr.ReadAvailable()
		if err != nil {
			return frames, err
		}

		for _, b := range buf {
			partial := append([]byte(nil), decoder.GetRawBytes()...)
			m, err := decoder.DecodeByte(b)
			if err != nil {
				fmt.Printf("[ERROR] %v: % X\n", err, append(partial, b))
				continue
			}
			if m == nil {
				continue
			}
			fmt.Print(lpf2.FormatMessage(*m, time.Now()))
			if m.IsAck() {
				return frames, nil
			}
			if m.Class != lpf2.ClassSys {
				frames++
			}
		}

		if len(buf) > 0 {
			continue
		}
		select {
		case <-ctx.Done():
			if raw := decoder.GetRawBytes(); len(raw) > 0 {
				fmt.Printf("[INCOMPLETE] % X\n", raw)
			}
			return frames, ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

// logPolls acknowledges the handshake, selects mode and prints n poll replies.
func logPolls(ctx context.Context, tr lpf2.Transport, mode, n int) error {
	if _, err := tr.Write([]byte{lpf2.ByteAck}); err != nil {
		return err
	}
	if err := tr.Configure(lpf2.BaudData, lpf2.DefaultDataReadWait); err != nil {
		return err
	}
	if _, err := tr.Write(lpf2.SelectFrame(mode)); err != nil {
		return err
	}
	fmt.Printf("\nSelected mode %d, polling %d times\n\n", mode, n)

	interval := config.Poll.Interval
	delay := config.Poll.ReplyDelay

	for i := 0; i < n; i++ {
		if _, err := tr.ReadAvailable(); err != nil {
			return err
		}
		if _, err := tr.Write([]byte{lpf2.ByteNack}); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		buf, err := tr.ReadAvailable()
		if err != nil {
			return err
		}
		fmt.Printf("[%s] poll %d: % X\n", time.Now().Format("15:04:05.000"), i+1, buf)
		printPollReply(buf)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}
	}
	return nil
}

// printPollReply decodes one poll reply, including an EXT_MODE prefix.
func printPollReply(buf []byte) {
	if len(buf) == 0 {
		fmt.Printf("  (no reply)\n")
		return
	}
	if buf[0] == lpf2.ByteAck {
		fmt.Printf("  SYS ACK\n")
		return
	}
	offset, rest, ok := lpf2.StripExtMode(buf)
	if ok {
		fmt.Printf("  EXT_MODE +%d\n", offset)
	}
	if len(rest) == 0 {
		return
	}
	m, _, err := lpf2.Decode(rest)
	if err != nil {
		fmt.Printf("  [ERROR] %v\n", err)
		return
	}
	fmt.Printf("  %s\n", lpf2.FormatMessageLine(m))
}
