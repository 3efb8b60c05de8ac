// Command potatoctl administers a running potatod ledger.
package main

func main() {
	Execute()
}
