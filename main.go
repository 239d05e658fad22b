package main

import "workflowaudit/internal/app"

func main() {
	app.Main()
}
