// Package main provides the entry point for the finwatch CLI.
//
// finwatch watches company investor-relations sites and public filing
// indexes for financial documents, stores each document once and reports
// what is new, updated or gone.
//
// Usage:
//
//	finwatch company add "Acme Corp" https://acme.example
//	finwatch run --all
//	finwatch changes
//
// See --help for all available options.
package main

func main() {
	Execute()
}
