package standards

// Zone classifies a Q-point as belonging to the meter's lower or upper
// flow range, per ISO 4064-1.
type Zone string

const (
	ZoneLower Zone = "Lower"
	ZoneUpper Zone = "Upper"
)

// QPoint is one canonical test point: a target flow rate, the volume to
// collect, an expected duration, and the MPE envelope that applies to it.
type QPoint struct {
	Name         string // Q1..Q8
	FlowRateLPerH float64
	TestVolumeL  float64
	DurationS    int
	MPEPct       float64
	Zone         Zone
}

// sizeClass keys the Q-point table by meter size and accuracy class.
type sizeClass struct {
	Size  string
	Class string
}

// qpointTable is grounded directly on the bench's seeded ISO 4064
// reference data for DN15/DN20/DN25 at classes A, B, C, and the R-class
// ratio series R80/R100/R160/R200.
var qpointTable = map[sizeClass][]QPoint{
	{"DN15", "A"}: {
		{"Q1", 25.0, 2.0, 288, 5.0, ZoneLower},
		{"Q2", 40.0, 4.0, 360, 2.0, ZoneUpper},
		{"Q3", 100.0, 10.0, 360, 2.0, ZoneUpper},
		{"Q4", 1600.0, 100.0, 225, 2.0, ZoneUpper},
		{"Q5", 12.5, 1.0, 288, 5.0, ZoneLower},
		{"Q6", 31.25, 3.0, 346, 5.0, ZoneLower},
		{"Q7", 50.0, 5.0, 360, 2.0, ZoneUpper},
		{"Q8", 2000.0, 120.0, 216, 2.0, ZoneUpper},
	},
	{"DN15", "B"}: {
		{"Q1", 10.0, 1.0, 360, 5.0, ZoneLower},
		{"Q2", 16.0, 1.6, 360, 2.0, ZoneUpper},
		{"Q3", 100.0, 10.0, 360, 2.0, ZoneUpper},
		{"Q4", 1600.0, 100.0, 225, 2.0, ZoneUpper},
		{"Q5", 5.0, 0.5, 360, 5.0, ZoneLower},
		{"Q6", 12.5, 1.25, 360, 5.0, ZoneLower},
		{"Q7", 50.0, 5.0, 360, 2.0, ZoneUpper},
		{"Q8", 2000.0, 120.0, 216, 2.0, ZoneUpper},
	},
	{"DN15", "C"}: {
		{"Q1", 3.175, 0.25, 284, 5.0, ZoneLower},
		{"Q2", 5.0, 0.5, 360, 2.0, ZoneUpper},
		{"Q3", 100.0, 10.0, 360, 2.0, ZoneUpper},
		{"Q4", 1600.0, 100.0, 225, 2.0, ZoneUpper},
		{"Q5", 1.6, 0.15, 338, 5.0, ZoneLower},
		{"Q6", 4.0, 0.4, 360, 5.0, ZoneLower},
		{"Q7", 50.0, 5.0, 360, 2.0, ZoneUpper},
		{"Q8", 2000.0, 120.0, 216, 2.0, ZoneUpper},
	},
	{"DN20", "A"}: {
		{"Q1", 50.0, 4.0, 288, 5.0, ZoneLower},
		{"Q2", 80.0, 8.0, 360, 2.0, ZoneUpper},
		{"Q3", 200.0, 20.0, 360, 2.0, ZoneUpper},
		{"Q4", 3200.0, 200.0, 225, 2.0, ZoneUpper},
		{"Q5", 25.0, 2.0, 288, 5.0, ZoneLower},
		{"Q6", 62.5, 6.0, 346, 5.0, ZoneLower},
		{"Q7", 100.0, 10.0, 360, 2.0, ZoneUpper},
		{"Q8", 4000.0, 160.0, 144, 2.0, ZoneUpper},
	},
	{"DN20", "B"}: {
		{"Q1", 20.0, 2.0, 360, 5.0, ZoneLower},
		{"Q2", 32.0, 3.2, 360, 2.0, ZoneUpper},
		{"Q3", 200.0, 20.0, 360, 2.0, ZoneUpper},
		{"Q4", 3200.0, 200.0, 225, 2.0, ZoneUpper},
		{"Q5", 10.0, 1.0, 360, 5.0, ZoneLower},
		{"Q6", 25.0, 2.5, 360, 5.0, ZoneLower},
		{"Q7", 100.0, 10.0, 360, 2.0, ZoneUpper},
		{"Q8", 4000.0, 160.0, 144, 2.0, ZoneUpper},
	},
	{"DN20", "C"}: {
		{"Q1", 6.35, 0.5, 284, 5.0, ZoneLower},
		{"Q2", 10.0, 1.0, 360, 2.0, ZoneUpper},
		{"Q3", 200.0, 20.0, 360, 2.0, ZoneUpper},
		{"Q4", 3200.0, 200.0, 225, 2.0, ZoneUpper},
		{"Q5", 3.175, 0.25, 284, 5.0, ZoneLower},
		{"Q6", 8.0, 0.8, 360, 5.0, ZoneLower},
		{"Q7", 100.0, 10.0, 360, 2.0, ZoneUpper},
		{"Q8", 4000.0, 160.0, 144, 2.0, ZoneUpper},
	},
	{"DN25", "A"}: {
		{"Q1", 78.125, 6.0, 277, 5.0, ZoneLower},
		{"Q2", 125.0, 12.0, 346, 2.0, ZoneUpper},
		{"Q3", 312.5, 30.0, 346, 2.0, ZoneUpper},
		{"Q4", 5000.0, 160.0, 115, 2.0, ZoneUpper},
		{"Q5", 39.0, 3.0, 277, 5.0, ZoneLower},
		{"Q6", 100.0, 10.0, 360, 5.0, ZoneLower},
		{"Q7", 156.25, 15.0, 346, 2.0, ZoneUpper},
		{"Q8", 6250.0, 180.0, 104, 2.0, ZoneUpper},
	},
	{"DN25", "B"}: {
		{"Q1", 31.25, 3.0, 346, 5.0, ZoneLower},
		{"Q2", 50.0, 5.0, 360, 2.0, ZoneUpper},
		{"Q3", 312.5, 30.0, 346, 2.0, ZoneUpper},
		{"Q4", 5000.0, 160.0, 115, 2.0, ZoneUpper},
		{"Q5", 15.625, 1.5, 346, 5.0, ZoneLower},
		{"Q6", 40.0, 4.0, 360, 5.0, ZoneLower},
		{"Q7", 156.25, 15.0, 346, 2.0, ZoneUpper},
		{"Q8", 6250.0, 180.0, 104, 2.0, ZoneUpper},
	},
	{"DN25", "C"}: {
		{"Q1", 9.92, 0.75, 272, 5.0, ZoneLower},
		{"Q2", 15.625, 1.5, 346, 2.0, ZoneUpper},
		{"Q3", 312.5, 30.0, 346, 2.0, ZoneUpper},
		{"Q4", 5000.0, 160.0, 115, 2.0, ZoneUpper},
		{"Q5", 5.0, 0.4, 288, 5.0, ZoneLower},
		{"Q6", 12.5, 1.25, 360, 5.0, ZoneLower},
		{"Q7", 156.25, 15.0, 346, 2.0, ZoneUpper},
		{"Q8", 6250.0, 180.0, 104, 2.0, ZoneUpper},
	},

	{"DN15", "R80"}: {
		{"Q1", 12.5, 1.0, 288, 5.0, ZoneLower},
		{"Q2", 20.0, 2.0, 360, 2.0, ZoneUpper},
		{"Q3", 100.0, 10.0, 360, 2.0, ZoneUpper},
		{"Q4", 1600.0, 100.0, 225, 2.0, ZoneUpper},
		{"Q5", 6.25, 0.5, 288, 5.0, ZoneLower},
		{"Q6", 16.0, 1.6, 360, 5.0, ZoneLower},
		{"Q7", 50.0, 5.0, 360, 2.0, ZoneUpper},
		{"Q8", 2000.0, 120.0, 216, 2.0, ZoneUpper},
	},
	{"DN15", "R100"}: {
		{"Q1", 10.0, 1.0, 360, 5.0, ZoneLower},
		{"Q2", 16.0, 1.6, 360, 2.0, ZoneUpper},
		{"Q3", 100.0, 10.0, 360, 2.0, ZoneUpper},
		{"Q4", 1600.0, 100.0, 225, 2.0, ZoneUpper},
		{"Q5", 5.0, 0.5, 360, 5.0, ZoneLower},
		{"Q6", 12.5, 1.25, 360, 5.0, ZoneLower},
		{"Q7", 50.0, 5.0, 360, 2.0, ZoneUpper},
		{"Q8", 2000.0, 120.0, 216, 2.0, ZoneUpper},
	},
	{"DN15", "R160"}: {
		{"Q1", 6.25, 0.5, 288, 5.0, ZoneLower},
		{"Q2", 10.0, 1.0, 360, 2.0, ZoneUpper},
		{"Q3", 100.0, 10.0, 360, 2.0, ZoneUpper},
		{"Q4", 1600.0, 100.0, 225, 2.0, ZoneUpper},
		{"Q5", 3.125, 0.25, 288, 5.0, ZoneLower},
		{"Q6", 8.0, 0.8, 360, 5.0, ZoneLower},
		{"Q7", 50.0, 5.0, 360, 2.0, ZoneUpper},
		{"Q8", 2000.0, 120.0, 216, 2.0, ZoneUpper},
	},
	{"DN15", "R200"}: {
		{"Q1", 5.0, 0.4, 288, 5.0, ZoneLower},
		{"Q2", 8.0, 0.8, 360, 2.0, ZoneUpper},
		{"Q3", 100.0, 10.0, 360, 2.0, ZoneUpper},
		{"Q4", 1600.0, 100.0, 225, 2.0, ZoneUpper},
		{"Q5", 2.5, 0.2, 288, 5.0, ZoneLower},
		{"Q6", 6.4, 0.64, 360, 5.0, ZoneLower},
		{"Q7", 50.0, 5.0, 360, 2.0, ZoneUpper},
		{"Q8", 2000.0, 120.0, 216, 2.0, ZoneUpper},
	},

	{"DN20", "R80"}: {
		{"Q1", 25.0, 2.0, 288, 5.0, ZoneLower},
		{"Q2", 40.0, 4.0, 360, 2.0, ZoneUpper},
		{"Q3", 200.0, 20.0, 360, 2.0, ZoneUpper},
		{"Q4", 3200.0, 200.0, 225, 2.0, ZoneUpper},
		{"Q5", 12.5, 1.0, 288, 5.0, ZoneLower},
		{"Q6", 32.0, 3.2, 360, 5.0, ZoneLower},
		{"Q7", 100.0, 10.0, 360, 2.0, ZoneUpper},
		{"Q8", 4000.0, 160.0, 144, 2.0, ZoneUpper},
	},
	{"DN20", "R100"}: {
		{"Q1", 20.0, 2.0, 360, 5.0, ZoneLower},
		{"Q2", 32.0, 3.2, 360, 2.0, ZoneUpper},
		{"Q3", 200.0, 20.0, 360, 2.0, ZoneUpper},
		{"Q4", 3200.0, 200.0, 225, 2.0, ZoneUpper},
		{"Q5", 10.0, 1.0, 360, 5.0, ZoneLower},
		{"Q6", 25.0, 2.5, 360, 5.0, ZoneLower},
		{"Q7", 100.0, 10.0, 360, 2.0, ZoneUpper},
		{"Q8", 4000.0, 160.0, 144, 2.0, ZoneUpper},
	},
	{"DN20", "R160"}: {
		{"Q1", 12.5, 1.0, 288, 5.0, ZoneLower},
		{"Q2", 20.0, 2.0, 360, 2.0, ZoneUpper},
		{"Q3", 200.0, 20.0, 360, 2.0, ZoneUpper},
		{"Q4", 3200.0, 200.0, 225, 2.0, ZoneUpper},
		{"Q5", 6.25, 0.5, 288, 5.0, ZoneLower},
		{"Q6", 16.0, 1.6, 360, 5.0, ZoneLower},
		{"Q7", 100.0, 10.0, 360, 2.0, ZoneUpper},
		{"Q8", 4000.0, 160.0, 144, 2.0, ZoneUpper},
	},
	{"DN20", "R200"}: {
		{"Q1", 10.0, 0.8, 288, 5.0, ZoneLower},
		{"Q2", 16.0, 1.6, 360, 2.0, ZoneUpper},
		{"Q3", 200.0, 20.0, 360, 2.0, ZoneUpper},
		{"Q4", 3200.0, 200.0, 225, 2.0, ZoneUpper},
		{"Q5", 5.0, 0.4, 288, 5.0, ZoneLower},
		{"Q6", 12.8, 1.28, 360, 5.0, ZoneLower},
		{"Q7", 100.0, 10.0, 360, 2.0, ZoneUpper},
		{"Q8", 4000.0, 160.0, 144, 2.0, ZoneUpper},
	},

	{"DN25", "R80"}: {
		{"Q1", 39.0, 3.0, 277, 5.0, ZoneLower},
		{"Q2", 62.5, 6.0, 346, 2.0, ZoneUpper},
		{"Q3", 312.5, 30.0, 346, 2.0, ZoneUpper},
		{"Q4", 5000.0, 160.0, 115, 2.0, ZoneUpper},
		{"Q5", 19.5, 1.5, 277, 5.0, ZoneLower},
		{"Q6", 50.0, 5.0, 360, 5.0, ZoneLower},
		{"Q7", 156.25, 15.0, 346, 2.0, ZoneUpper},
		{"Q8", 6250.0, 180.0, 104, 2.0, ZoneUpper},
	},
	{"DN25", "R100"}: {
		{"Q1", 31.25, 3.0, 346, 5.0, ZoneLower},
		{"Q2", 50.0, 5.0, 360, 2.0, ZoneUpper},
		{"Q3", 312.5, 30.0, 346, 2.0, ZoneUpper},
		{"Q4", 5000.0, 160.0, 115, 2.0, ZoneUpper},
		{"Q5", 15.625, 1.5, 346, 5.0, ZoneLower},
		{"Q6", 40.0, 4.0, 360, 5.0, ZoneLower},
		{"Q7", 156.25, 15.0, 346, 2.0, ZoneUpper},
		{"Q8", 6250.0, 180.0, 104, 2.0, ZoneUpper},
	},
	{"DN25", "R160"}: {
		{"Q1", 19.5, 1.5, 277, 5.0, ZoneLower},
		{"Q2", 31.25, 3.0, 346, 2.0, ZoneUpper},
		{"Q3", 312.5, 30.0, 346, 2.0, ZoneUpper},
		{"Q4", 5000.0, 160.0, 115, 2.0, ZoneUpper},
		{"Q5", 9.75, 0.75, 277, 5.0, ZoneLower},
		{"Q6", 25.0, 2.5, 360, 5.0, ZoneLower},
		{"Q7", 156.25, 15.0, 346, 2.0, ZoneUpper},
		{"Q8", 6250.0, 180.0, 104, 2.0, ZoneUpper},
	},
	{"DN25", "R200"}: {
		{"Q1", 15.625, 1.2, 277, 5.0, ZoneLower},
		{"Q2", 25.0, 2.5, 360, 2.0, ZoneUpper},
		{"Q3", 312.5, 30.0, 346, 2.0, ZoneUpper},
		{"Q4", 5000.0, 160.0, 115, 2.0, ZoneUpper},
		{"Q5", 7.8, 0.6, 277, 5.0, ZoneLower},
		{"Q6", 20.0, 2.0, 360, 5.0, ZoneLower},
		{"Q7", 156.25, 15.0, 346, 2.0, ZoneUpper},
		{"Q8", 6250.0, 180.0, 104, 2.0, ZoneUpper},
	},
}

// QPointsFor returns the full Q1-Q8 table for a meter size and accuracy
// class, or nil if the combination is not seeded.
func QPointsFor(size, class string) []QPoint {
	return qpointTable[sizeClass{size, class}]
}

// QPoint looks up a single named Q-point (e.g. "Q1") for a size/class.
func QPointByName(size, class, name string) (QPoint, bool) {
	for _, qp := range QPointsFor(size, class) {
		if qp.Name == name {
			return qp, true
		}
	}
	return QPoint{}, false
}
