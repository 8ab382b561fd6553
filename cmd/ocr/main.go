package main

import "github.com/MeKo-Tech/ticketocr/cmd/ocr/cmd"

func main() {
	cmd.Execute()
}
