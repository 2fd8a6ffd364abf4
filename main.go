package main

import "opsdiag/internal/app"

func main() {
	app.Main()
}
