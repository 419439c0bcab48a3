package main

import (
	"fmt"

	"github.com/g3ti/rtcc-stream/cmd"
)

func main() {
	if err := cmd.Run(); err != nil {
		fmt.Println(err.Error())
		return
	}
}
