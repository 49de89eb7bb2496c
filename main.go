package main

import "github.com/aldihidayat35/billey-waapi-v2/cmd"

func main() {
	cmd.Execute()
}
