// Command classify builds a randomly initialized transformer sequence
// classifier and runs a batch of random token id sequences through it,
// reporting logits, class probabilities, predictions and timings.
//
// The weights are untrained, so the predictions carry no meaning; the
// point is to exercise the full forward pass at a realistic size.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/exp/rand"

	"github.com/leox1v/dl20/pkg/model"
	"github.com/leox1v/dl20/pkg/tensor"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("81"))
	sectionStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("75"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	posStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	negStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203"))
	panelStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("244")).
			Padding(0, 1)
)

func main() {
	embDim := flag.Int("emb-dim", 128, "Embedding dimension")
	heads := flag.Int("heads", 8, "Number of attention heads")
	depth := flag.Int("depth", 6, "Number of transformer blocks")
	numTokens := flag.Int("num-tokens", 30000, "Vocabulary size")
	numClasses := flag.Int("num-classes", 2, "Number of output classes")
	maxSeqLen := flag.Int("max-seq-len", 512, "Maximum sequence length")
	seqLen := flag.Int("seq-len", 100, "Sequence length of the demo batch")
	batchSize := flag.Int("batch-size", 8, "Number of sequences in the demo batch")
	seed := flag.Uint64("seed", 42, "Seed for weight initialization and input sampling")

	flag.Parse()

	config := model.DefaultConfig()
	config.EmbeddingDim = *embDim
	config.NumHeads = *heads
	config.Depth = *depth
	config.NumTokens = *numTokens
	config.NumClasses = *numClasses
	config.MaxSeqLen = *maxSeqLen
	config.Seed = *seed

	fmt.Println(titleStyle.Render("Transformer Sequence Classifier"))
	fmt.Println()

	fmt.Println(sectionStyle.Render("Model Configuration"))
	fmt.Printf("  %s %d\n", dimStyle.Render("Vocabulary size:"), config.NumTokens)
	fmt.Printf("  %s %d\n", dimStyle.Render("Max sequence length:"), config.MaxSeqLen)
	fmt.Printf("  %s %d\n", dimStyle.Render("Embedding dim:"), config.EmbeddingDim)
	fmt.Printf("  %s %d\n", dimStyle.Render("Attention heads:"), config.NumHeads)
	fmt.Printf("  %s %d\n", dimStyle.Render("Blocks:"), config.Depth)
	fmt.Printf("  %s %d\n", dimStyle.Render("Classes:"), config.NumClasses)
	fmt.Printf("  %s %d\n", dimStyle.Render("Seed:"), config.Seed)
	fmt.Println()

	start := time.Now()
	classifier, err := model.NewClassifier(config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building model: %v\n", err)
		os.Exit(1)
	}
	buildTime := time.Since(start)

	fmt.Println(sectionStyle.Render("Model"))
	fmt.Printf("  %s %d\n", dimStyle.Render("Parameters:"), classifier.NumParameters())
	fmt.Printf("  %s %v\n", dimStyle.Render("Build time:"), buildTime.Round(time.Millisecond))
	fmt.Println()

	// Sample a rectangular batch of in-range token ids. Untrained weights
	// make the content irrelevant, only the shapes matter.
	rng := rand.New(rand.NewSource(*seed))
	ids := make([][]int, *batchSize)
	for i := range ids {
		row := make([]int, *seqLen)
		for j := range row {
			row[j] = rng.Intn(config.NumTokens)
		}
		ids[i] = row
	}

	fmt.Println(sectionStyle.Render("Forward Pass"))
	fmt.Printf("  %s (%d, %d)\n", dimStyle.Render("Input shape:"), *batchSize, *seqLen)

	start = time.Now()
	logits, err := classifier.Forward(ids)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error running forward pass: %v\n", err)
		os.Exit(1)
	}
	forwardTime := time.Since(start)

	fmt.Printf("  %s (%d, %d)\n", dimStyle.Render("Output shape:"), logits.Shape[0], logits.Shape[1])
	fmt.Printf("  %s %v\n", dimStyle.Render("Forward time:"), forwardTime.Round(time.Millisecond))
	fmt.Printf("  %s %v\n", dimStyle.Render("Per example:"),
		(forwardTime / time.Duration(*batchSize)).Round(time.Microsecond))
	fmt.Println()

	probs := tensor.SoftmaxLast(logits)

	nc := *numClasses
	var report string
	for i := 0; i < *batchSize; i++ {
		row := probs.Data[i*nc : (i+1)*nc]
		best := 0
		for j, v := range row {
			if v > row[best] {
				best = j
			}
		}

		label := classLabel(best, nc)
		line := fmt.Sprintf("[%2d]  %s  p=%.4f  logits=%s",
			i, label, row[best], formatRow(logits.Data[i*nc:(i+1)*nc]))
		if report != "" {
			report += "\n"
		}
		report += line
	}

	fmt.Println(sectionStyle.Render("Predictions"))
	fmt.Println(panelStyle.Render(report))
}

// classLabel renders the predicted class, using sentiment names for the
// binary case.
func classLabel(class, numClasses int) string {
	if numClasses == 2 {
		if class == 1 {
			return posStyle.Render("positive")
		}
		return negStyle.Render("negative")
	}
	return fmt.Sprintf("class %d", class)
}

func formatRow(row []float32) string {
	out := "["
	for i, v := range row {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("%.4f", v)
	}
	return out + "]"
}
