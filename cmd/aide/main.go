// Command aide runs goal-driven agent tasks from the terminal and, in
// serve mode, exposes the status API and scheduler as a daemon.
package main

func main() {
	Execute()
}
