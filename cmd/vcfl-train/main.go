// Command vcfl-train trains a re-identification model with
// triplet, classification, visual word and centroid losses.
package main

func main() {
	Execute()
}
