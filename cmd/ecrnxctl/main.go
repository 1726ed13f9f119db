// Command ecrnxctl downloads firmware to ECRNX radios and inspects the
// boot ROM protocol.
package main

func main() {
	Execute()
}
