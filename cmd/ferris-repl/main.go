package main

import (
	"bufio"
	"flag"
	"fmt"
	"hash/crc32"
	"io"
	"net"
	"os"
	"strings"

	"ferrisshare/protocol"
)

// ferris-repl is an interactive client for poking at a ferrisshare
// listener: type protocol lines, see replies. The local ".send <path>"
// command pushes a file's blocks through the current session.

func main() {
	var host string
	var port int

	flag.StringVar(&host, "host", "127.0.0.1", "FerrisShare server host")
	flag.IntVar(&port, "port", 9000, "FerrisShare server port")
	flag.Parse()

	address := fmt.Sprintf("%s:%d", host, port)
	fmt.Fprintf(os.Stderr, "Connecting to %s...\n", address)

	conn, err := net.Dial("tcp", address)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection failed: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	fmt.Fprintf(os.Stderr, "Connected. Type protocol lines, or .send <path>; Ctrl-D quits.\n")

	// Print all server output as it arrives
	done := make(chan bool)
	go readOutput(conn, done)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, ".send ") {
			path := strings.TrimSpace(strings.TrimPrefix(line, ".send "))
			if err := sendBlocks(conn, path); err != nil {
				fmt.Fprintf(os.Stderr, "Send failed: %v\n", err)
			}
			continue
		}

		if _, err := conn.Write([]byte(line + "\n")); err != nil {
			fmt.Fprintf(os.Stderr, "Error sending line: %v\n", err)
			break
		}
	}

	conn.Close()
	<-done

	fmt.Fprintf(os.Stderr, "Done.\n")
}

// sendBlocks streams a file as YEET blocks over the existing session. The
// HELLO is left to the user so broken dialogs can be reproduced on purpose.
func sendBlocks(conn net.Conn, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	buf := make([]byte, protocol.NominalBlockSize)
	var index uint64

	for {
		n, err := f.Read(buf)
		if n == 0 {
			if err == io.EOF {
				return nil
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
		if _, err := conn.Write([]byte(protocol.Yeet{Block: block}.Encode() + "\n")); err != nil {
			return err
		}
		if _, err := conn.Write(buf[:n]); err != nil {
			return err
		}
		if _, err := conn.Write([]byte("\n")); err != nil {
			return err
		}
		index++
	}
}

// readOutput reads and prints server replies until the connection closes
func readOutput(conn net.Conn, done chan bool) {
	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			fmt.Printf("< %s\n", strings.TrimRight(line, "\r\n"))
		}
		if err != nil {
			break
		}
	}
	done <- true
}
