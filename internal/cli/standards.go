package cli

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// Context keys filled from the standards catalog.
const (
	keyDescriptionEN = "description_en"
	keyDescriptionES = "description_es"
)

// standard is one row of a standards catalog.
type standard struct {
	Code string
	EN   string
	ES   string
}

// defaultStandards are used when no catalog is given or it lacks the code.
var defaultStandards = map[string]standard{
	"3.6A": {
		Code: "3.6A",
		EN:   "Classify and sort two- and three-dimensional figures, including cones, cylinders, spheres, triangular and rectangular prisms, and cubes, based on attributes using formal geometric language.",
		ES:   "Clasificar y ordenar figuras bidimensionales y tridimensionales, incluidas los conos, cilindros, esferas, prismas triangulares y prismas rectangulares, y cubos, según atributos usando lenguaje geométrico formal.",
	},
	"3.6C": {
		Code: "3.6C",
		EN:   "Determine the area of rectangles with whole number side lengths using multiplication related to rows and columns.",
		ES:   "Determinar el área de rectángulos con longitudes de lado en números enteros usando multiplicación relacionada con filas y columnas.",
	},
}

// Header aliases accepted for each catalog column. Matching is on the
// lowercased, trimmed header.
var (
	codeColumns    = []string{"code", "teks", "teks_code", "standard", "standard_code", "id"}
	enColumns      = []string{"description_en", "desc_en", "english", "english_description", "en_description", "description (en)", "descriptionen"}
	esColumns      = []string{"description_es", "desc_es", "spanish", "spanish_description", "es_description", "descripcion", "descripcion_es", "descripción", "descripción_es", "description (es)", "descripciones"}
	genericColumns = []string{"description", "desc", "teks_description", "standard_description", "student_expectation", "se", "text", "statement", "learning_objective"}
)

// catalog is an ordered set of standards keyed by code.
type catalog struct {
	rows   []standard
	byCode map[string]int
}

// loadCatalog reads a standards CSV. The code column falls back to the first
// column; a generic description column stands in for a missing English one.
func loadCatalog(path string) (*catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open standards: %w", err)
	}
	defer f.Close()
	return parseCatalog(f)
}

func parseCatalog(r io.Reader) (*catalog, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("standards csv is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("read standards header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, dup := cols[h]; !dup {
			cols[h] = i
		}
	}
	pick := func(aliases []string) int {
		for _, a := range aliases {
			if i, ok := cols[a]; ok {
				return i
			}
		}
		return -1
	}
	codeCol := pick(codeColumns)
	if codeCol < 0 {
		codeCol = 0
	}
	for name, i := range cols {
		if i == codeCol {
			delete(cols, name)
		}
	}
	enCol, esCol := pick(enColumns), pick(esColumns)
	if enCol < 0 {
		enCol = pick(genericColumns)
	}

	c := &catalog{byCode: make(map[string]int)}
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read standards: %w", err)
		}
		s := standard{Code: field(rec, codeCol), EN: field(rec, enCol), ES: field(rec, esCol)}
		if s.Code == "" {
			continue
		}
		if _, seen := c.byCode[s.Code]; seen {
			continue
		}
		c.byCode[s.Code] = len(c.rows)
		c.rows = append(c.rows, s)
	}
	return c, nil
}

func field(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

// Len returns the number of standards.
func (c *catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.rows)
}

// ForGrade returns the standards whose code starts with "<grade>.", in file
// order. An empty grade returns every row.
func (c *catalog) ForGrade(grade string) []standard {
	if c == nil {
		return nil
	}
	grade = normalizeGrade(grade)
	if grade == "" {
		return c.rows
	}
	var out []standard
	for _, s := range c.rows {
		if strings.HasPrefix(s.Code, grade+".") {
			out = append(out, s)
		}
	}
	return out
}

// describe returns the English and Spanish descriptions for code, consulting
// the catalog first and the built-in defaults for whatever it leaves empty.
func (c *catalog) describe(code string) (en, es string) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", ""
	}
	if c != nil {
		if i, ok := c.byCode[code]; ok {
			en, es = c.rows[i].EN, c.rows[i].ES
		}
	}
	if d, ok := defaultStandards[code]; ok {
		if en == "" {
			en = d.EN
		}
		if es == "" {
			es = d.ES
		}
	}
	return en, es
}

// fillDescriptions sets description_en / description_es from the standard
// code when the pipeline declares them and the caller did not pass them.
// It returns a warning when the code has no English description.
func fillDescriptions(initial map[string]any, declared []string, cat *catalog) string {
	want := make(map[string]bool, len(declared))
	for _, k := range declared {
		want[k] = true
	}
	if !want[keyDescriptionEN] && !want[keyDescriptionES] {
		return ""
	}
	code, _ := initial[keyCode].(string)
	en, es := cat.describe(code)

	fill := func(key, v string) {
		if !want[key] {
			return
		}
		if cur, _ := initial[key].(string); cur == "" {
			initial[key] = v
		}
	}
	fill(keyDescriptionEN, en)
	fill(keyDescriptionES, es)

	if cur, _ := initial[keyDescriptionEN].(string); want[keyDescriptionEN] && cur == "" && code != "" {
		return fmt.Sprintf("no description found for standard %s; pass -p %s=... with the official statement for best results", code, keyDescriptionEN)
	}
	return ""
}

var standardsCmd = &cobra.Command{
	Use:   "standards",
	Short: "Inspect a standards catalog CSV",
}

var standardsListCmd = &cobra.Command{
	Use:   "list <csv>",
	Short: "List standards, optionally filtered by grade",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		grade, _ := cmd.Flags().GetString("grade")
		cat, err := loadCatalog(args[0])
		if err != nil {
			return err
		}
		rows := cat.ForGrade(grade)
		if len(rows) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No standards found.")
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "CODE\tDESCRIPTION")
		for _, s := range rows {
			fmt.Fprintf(w, "%s\t%s\n", s.Code, truncateRunes(s.EN, 80))
		}
		return w.Flush()
	},
}

func init() {
	standardsListCmd.Flags().String("grade", "", "only standards for this grade (e.g. 3, 3rd, K)")
	standardsCmd.AddCommand(standardsListCmd)
}
