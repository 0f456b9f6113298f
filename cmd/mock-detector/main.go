package main

import (
	"flag"
	"log"

	"github.com/gin-gonic/gin"
)

func main() {
	addr := flag.String("addr", ":5001", "listen address")
	dataPath := flag.String("data", "data/detections.json", "canned detections; a built-in list is used when the file is missing")
	flag.Parse()

	r := gin.Default()
	newMock(*dataPath).register(r)

	log.Printf("mock-detector listening on %s", *addr)
	log.Fatal(r.Run(*addr))
}
