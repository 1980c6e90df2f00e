package main

import (
	"log"

	apexd "github.com/aupiff/apex-protocol/services/apexd"
)

func main() {
	if err := apexd.Main(); err != nil {
		log.Fatalf("apexd: %v", err)
	}
}
