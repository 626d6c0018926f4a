package extractor

import (
	"fmt"
	"testing"

	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

func benchDoc(fields int) bsoncore.Document {
	b := bsoncore.NewDocumentBuilder()
	for i := 0; i < fields; i++ {
		b.AppendInt32(fmt.Sprintf("field%02d", i), int32(i))
	}
	b.AppendDocument("nested", func() bsoncore.Document {
		nb := bsoncore.NewDocumentBuilder()
		nb.AppendInt32("inner", 1)
		return nb.Build()
	}())
	return b.Build()
}

func benchPaths() []string {
	paths := make([]string, 0, 11)
	for i := 0; i < 10; i++ {
		paths = append(paths, fmt.Sprintf("field%02d", i*7%70))
	}
	return append(paths, "nested.inner")
}

func BenchmarkExtract(b *testing.B) {
	doc := benchDoc(70)
	x := New()
	for _, p := range benchPaths() {
		x.RegisterField(p)
	}
	x.Finalize()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		x.Extract(doc)
	}
}

func BenchmarkDirectPathLookups(b *testing.B) {
	doc := benchDoc(70)
	paths := benchPaths()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for _, p := range paths {
			ExtractElementAtPath(doc, p)
		}
	}
}

func BenchmarkSignature(b *testing.B) {
	name := []byte("field_name_of_usual_length")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		makeSignature(name)
	}
}
