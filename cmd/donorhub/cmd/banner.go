package cmd

import (
	"fmt"
)

const banner = `
  ____                        _   _       _     
 |  _ \  ___  _ __   ___  _ _| | | |_   _| |__  
 | | | |/ _ \| '_ \ / _ \| '__| |_| | | | | '_ \ 
 | |_| | (_) | | | | (_) | |  |  _  | |_| | |_) |
 |____/ \___/|_| |_|\___/|_|  |_| |_|\__,_|_.__/ 
                                                 
`

func printBanner() {
	fmt.Printf("\x1b[34m%s\x1b[0m", banner)
	fmt.Printf("\x1b[32m  Donor Registration Service - Version %s\x1b[0m\n\n", Version)
}
