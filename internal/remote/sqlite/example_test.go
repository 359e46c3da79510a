package sqlite_test

import (
	"context"
	"fmt"
	"log"

	"github.com/quillnotes/quill/internal/note"
	"github.com/quillnotes/quill/internal/remote"
	"github.com/quillnotes/quill/internal/remote/sqlite"
)

// This example demonstrates creating, updating and listing notes.
func ExampleOpen() {
	store, err := sqlite.Open(sqlite.MemoryPath, nil)
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	ctx := context.Background()
	n, err := store.Create(ctx, "alice", remote.CreateInput{Title: "Groceries", Content: "milk"})
	if err != nil {
		log.Fatal(err)
	}

	// Only the tags column is written.
	if _, err := store.Update(ctx, "alice", n.ID, note.TagsOnly([]string{"home", "home", "errands"})); err != nil {
		log.Fatal(err)
	}

	notes, err := store.List(ctx, "alice")
	if err != nil {
		log.Fatal(err)
	}
	for _, n := range notes {
		fmt.Println(n.Title, n.Tags)
	}
	// Output: Groceries [home errands]
}

// This example demonstrates watching an owner's changes through the hub.
func ExampleHub_Subscribe() {
	store, err := sqlite.Open(sqlite.MemoryPath, nil)
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	ctx := context.Background()
	sub, err := store.Hub().Subscribe(ctx, "alice")
	if err != nil {
		log.Fatal(err)
	}
	defer sub.Close()

	if _, err := store.Create(ctx, "alice", remote.CreateInput{Title: "hello"}); err != nil {
		log.Fatal(err)
	}

	ev := <-sub.Events()
	fmt.Println(ev.Kind, ev.OwnerID)
	// Output: insert alice
}
