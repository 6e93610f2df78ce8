// Command iocpnet-client is a minimal interactive echo client: it connects
// to the server, sends each stdin line and prints what comes back.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"net"
	"os"
	"time"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:9000", "Server address")
	timeout := flag.Duration("timeout", 5*time.Second, "Per-message reply timeout")
	flag.Parse()

	conn, err := net.Dial("tcp", *addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connect failed: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	fmt.Printf("Connected to %s\n", *addr)
	fmt.Println("Enter message to send (type 'exit' to quit):")

	stdin := bufio.NewScanner(os.Stdin)
	reply := make([]byte, 64*1024)

	for {
		fmt.Print("> ")
		if !stdin.Scan() {
			break
		}
		line := stdin.Text()
		if line == "" {
			continue
		}
		if line == "exit" {
			break
		}

		if _, err := conn.Write([]byte(line)); err != nil {
			fmt.Fprintf(os.Stderr, "Send failed: %v\n", err)
			os.Exit(1)
		}

		_ = conn.SetReadDeadline(time.Now().Add(*timeout))
		n, err := conn.Read(reply)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Receive failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("< %s\n", reply[:n])
	}

	fmt.Println("Bye")
}
