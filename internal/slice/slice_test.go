package slice

import "testing"

func intp(v int) *int { return &v }

func eqBound(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func TestParse(t *testing.T) {
	cases := []struct {
		name string
		text string
		want []Range
	}{
		{"empty", "", nil},
		{"whitespaceOnly", "   ", nil},
		{"twoDims", "10:20,5:15", []Range{
			{Start: intp(10), Stop: intp(20)},
			{Start: intp(5), Stop: intp(15)},
		}},
		{"zeroStart", "0:5", []Range{
			{Start: intp(0), Stop: intp(5)},
		}},
		{"stepAcceptedNotApplied", "10:20:2", []Range{
			{Start: intp(10), Stop: intp(20)},
		}},
		{"bareIndexDropped", "5,3:4", []Range{
			{Start: intp(3), Stop: intp(4)},
		}},
		{"emptyDimUnbounded", ",3:4", []Range{
			{},
			{Start: intp(3), Stop: intp(4)},
		}},
		{"openBounds", ":10,7:", []Range{
			{Stop: intp(10)},
			{Start: intp(7)},
		}},
		{"nonNumericBound", "a:10", []Range{
			{Stop: intp(10)},
		}},
		{"spaces", " 10 : 20 , 5 : 15 ", []Range{
			{Start: intp(10), Stop: intp(20)},
			{Start: intp(5), Stop: intp(15)},
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Parse(tc.text)
			if len(got) != len(tc.want) {
				t.Fatalf("Parse(%q) = %d ranges, want %d", tc.text, len(got), len(tc.want))
			}
			for i := range got {
				if !eqBound(got[i].Start, tc.want[i].Start) || !eqBound(got[i].Stop, tc.want[i].Stop) {
					t.Fatalf("Parse(%q)[%d] = %+v, want %+v", tc.text, i, got[i], tc.want[i])
				}
			}
		})
	}
}

func TestRangeBounded(t *testing.T) {
	if (Range{}).Bounded() {
		t.Fatal("unbounded range reported as bounded")
	}
	if (Range{Start: intp(1)}).Bounded() {
		t.Fatal("half-open range reported as bounded")
	}
	if !(Range{Start: intp(0), Stop: intp(4)}).Bounded() {
		t.Fatal("bounded range with zero start reported as unbounded")
	}
}
