package main

import "github.com/eleven-am/interview-realtime/internal/bootstrap"

func main() {
	bootstrap.Run()
}
