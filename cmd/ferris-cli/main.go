package main

import (
	"bufio"
	"fmt"
	"hash/crc32"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"ferrisshare/protocol"
)

func main() {
	root := &cobra.Command{
		Use:           "ferris-cli",
		Short:         "CLI to communicate with a ferrisshare listener",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newHelloCmd(), newSendCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newHelloCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "hello <filename> <filesize>",
		Short: "Simple ping (HELLO) for testing",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			filesize, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid filesize %q: %w", args[1], err)
			}

			conn, err := net.Dial("tcp", addr)
			if err != nil {
				return err
			}
			defer conn.Close()

			session := newSession(conn)
			reply, err := session.exchange(protocol.Hello{Filename: args[0], Filesize: filesize})
			if err != nil {
				return err
			}
			fmt.Printf("Reply: %s\n", reply.Encode())
			return nil
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "127.0.0.1:9000", "remote address (host:port)")
	return cmd
}

func newSendCmd() *cobra.Command {
	var (
		addr      string
		file      string
		blockSize uint32
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a file to a ferrisshare listener",
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendFile(addr, file, blockSize)
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "127.0.0.1:9000", "remote address (host:port)")
	cmd.Flags().StringVarP(&file, "file", "f", "", "file to send")
	cmd.Flags().Uint32VarP(&blockSize, "block-size", "b", protocol.NominalBlockSize, "block size in bytes")
	cmd.MarkFlagRequired("file")
	return cmd
}

// session pairs a connection with a buffered reader for reply lines.
type session struct {
	conn   net.Conn
	reader *bufio.Reader
}

func newSession(conn net.Conn) *session {
	return &session{conn: conn, reader: bufio.NewReader(conn)}
}

func (s *session) writeLine(msg protocol.Message) error {
	_, err := s.conn.Write([]byte(msg.Encode() + "\n"))
	return err
}

func (s *session) readReply() (protocol.Message, error) {
	line, err := s.reader.ReadString('\n')
	if err != nil {
		return nil, err
	}
	return protocol.Decode(line)
}

// exchange writes one message and reads the server's reply.
func (s *session) exchange(msg protocol.Message) (protocol.Message, error) {
	if err := s.writeLine(msg); err != nil {
		return nil, err
	}
	return s.readReply()
}

func sendFile(addr, path string, blockSize uint32) error {
	if blockSize == 0 {
		return fmt.Errorf("block size must be positive")
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	filename := filepath.Base(path)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	s := newSession(conn)

	reply, err := s.exchange(protocol.Hello{Filename: filename, Filesize: uint64(info.Size())})
	if err != nil {
		return err
	}
	if _, ok := reply.(protocol.Ok); !ok {
		return fmt.Errorf("server refused transfer: %s", reply.Encode())
	}
	fmt.Fprintf(os.Stderr, "Server: %s\n", reply.Encode())

	buf := make([]byte, blockSize)
	var index uint64

	for {
		n, err := f.Read(buf)
		if n == 0 {
			if err == io.EOF {
				break
			}
			if err != nil {
				return err
			}
			continue
		}

		block := protocol.YeetBlock{
			Index:    index,
			Size:     uint32(n),
			Checksum: crc32.ChecksumIEEE(buf[:n]),
		}
		if err := s.writeLine(protocol.Yeet{Block: block}); err != nil {
			return err
		}

		// Raw block bytes, then the payload terminator.
		if _, err := s.conn.Write(buf[:n]); err != nil {
			return err
		}
		if _, err := s.conn.Write([]byte("\n")); err != nil {
			return err
		}

		reply, err := s.readReply()
		if err != nil {
			return err
		}
		ack, ok := reply.(protocol.OkHousten)
		if !ok {
			return fmt.Errorf("block %d rejected: %s", index, reply.Encode())
		}
		if ack.Index != index {
			return fmt.Errorf("acknowledgement out of order: sent %d, acked %d", index, ack.Index)
		}
		fmt.Fprintf(os.Stderr, "Server: %s\n", reply.Encode())

		index++
	}

	reply, err = s.exchange(protocol.MissionAccomplished{})
	if err != nil {
		return err
	}
	if _, ok := reply.(protocol.Success); !ok {
		return fmt.Errorf("finalize failed: %s", reply.Encode())
	}
	fmt.Fprintf(os.Stderr, "Server: %s\n", reply.Encode())

	reply, err = s.exchange(protocol.ByeRis{})
	if err != nil && err != io.EOF {
		return err
	}
	if reply != nil {
		fmt.Fprintf(os.Stderr, "Server: %s\n", reply.Encode())
	}

	return nil
}
