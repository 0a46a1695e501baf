package main

import "immich-deduper/cmd"

func main() {
	cmd.Execute()
}
