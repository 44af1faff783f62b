package main

import (
	"fmt"

	"github.com/kevinxiao27/egdoc/doc"
	"github.com/kevinxiao27/egdoc/types"
	"github.com/sanity-io/litter"
)

func main() {
	doc1 := doc.NewAutoCommit()
	text, _ := doc1.PutObject(doc.Root, doc.Key("text"), doc.ObjText)
	doc1.SpliceText(text, 0, 0, "hi")
	doc1.Commit()

	doc2 := doc1.Fork()
	doc1.SpliceText(text, 2, 0, " there")
	doc1.Put(doc.Root, doc.Key("by"), types.Str("a"))
	doc2.SpliceText(text, 0, 0, "yoooo ")
	doc2.Put(doc.Root, doc.Key("by"), types.Str("z"))

	doc1.Merge(doc2)
	doc2.Merge(doc1)

	result1, _ := doc1.Text(text)
	fmt.Printf("Result: '%s'\n", result1)
	result2, _ := doc2.Text(text)
	fmt.Printf("Result: '%s'\n", result2)

	if result1 == result2 {
		fmt.Println("Texts match")
	} else {
		fmt.Println("Texts differ")
	}

	conflicts, _ := doc1.GetAll(doc.Root, doc.Key("by"))
	fmt.Println("Conflicting values of \"by\":")
	for _, c := range conflicts {
		fmt.Printf("  %s = %s\n", c.Id, c.Value)
	}

	content1, _ := doc1.Materialize(doc.Root)
	fmt.Println(litter.Sdump(content1))
}
