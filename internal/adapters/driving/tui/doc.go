// Package tui renders the interactive transform progress view.
//
// The view follows the Elm architecture of Bubbletea: the transform
// run happens in a goroutine and reports each completed batch to the
// program as a message.
package tui
