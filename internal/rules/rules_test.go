package rules

import (
	"context"
	"testing"
	"time"

	"crashproc/internal/models"
)

var testNow = time.Date(2012, 5, 9, 0, 0, 0, 0, time.UTC)

const testCrashID = "00000000-0000-0000-0000-000002140504"

// canonicalRawCrash returns a fresh copy of a typical desktop crash.
func canonicalRawCrash() models.RawCrash {
	return models.RawCrash{
		"uuid":                    testCrashID,
		"InstallTime":             "1335439892",
		"AdapterVendorID":         "0x1002",
		"TotalVirtualMemory":      "4294836224",
		"Comments":                "why did my browser crash?  #fail",
		"Theme":                   "classic/1.0",
		"Version":                 "12.0",
		"Email":                   "noreply@mozilla.com",
		"Vendor":                  "Mozilla",
		"EMCheckCompatibility":    "true",
		"Throttleable":            "1",
		"id":                      "{ec8030f7-c20a-464f-9b0e-13a3a9e97384}",
		"buildid":                 "20120420145725",
		"AvailablePageFile":       "10641510400",
		"version":                 "12.0",
		"AdapterDeviceID":         "0x7280",
		"ReleaseChannel":          "release",
		"submitted_timestamp":     "2012-05-08T23:26:33.454482+00:00",
		"URL":                     "http://www.mozilla.com",
		"timestamp":               1336519593.454627,
		"Notes":                   "AdapterVendorID: 0x1002, AdapterDeviceID: 0x7280, AdapterSubsysID: 01821043, AdapterDriverVersion: 8.593.100.0\nD3D10 Layers? D3D10 Layers- D3D9 Layers? D3D9 Layers- ",
		"CrashTime":               "1336519554",
		"FramePoisonBase":         "00000000f0de0000",
		"AvailablePhysicalMemory": "2227773440",
		"FramePoisonSize":         "65536",
		"StartupTime":             "1336499438",
		"Add-ons": "adblockpopups@jessehakanen.net:0.3," +
			"dmpluginff%40westbyte.com:1%2C4.8," +
			"firebug@software.joehewitt.com:1.9.1," +
			"killjasmin@pierros14.com:2.4," +
			"support@surfanonymous-free.com:1.0," +
			"uploader@adblockfilters.mozdev.org:2.1," +
			"{a0d7ccb3-214d-498b-b4aa-0e8fda9a7bf7}:20111107," +
			"{d10d0bf8-f5b5-c8b4-a8b2-2b9879e08c5d}:2.0.3," +
			"anttoolbar@ant.com:2.4.6.4," +
			"{972ce4c6-7e08-4474-a285-3208198ce6fd}:12.0," +
			"elemhidehelper@adblockplus.org:1.2.1",
		"BuildID":                   "20120420145725",
		"SecondsSinceLastCrash":     "86985",
		"ProductName":               "Firefox",
		"legacy_processing":         0,
		"AvailableVirtualMemory":    "3812708352",
		"SystemMemoryUsePercentage": "48",
		"ProductID":                 "{ec8030f7-c20a-464f-9b0e-13a3a9e97384}",
		"Distributor":               "Mozilla",
		"Distributor_version":       "12.0",
	}
}

func canonicalAddons() []string {
	return []string{
		"adblockpopups@jessehakanen.net:0.3",
		"dmpluginff@westbyte.com:1,4.8",
		"firebug@software.joehewitt.com:1.9.1",
		"killjasmin@pierros14.com:2.4",
		"support@surfanonymous-free.com:1.0",
		"uploader@adblockfilters.mozdev.org:2.1",
		"{a0d7ccb3-214d-498b-b4aa-0e8fda9a7bf7}:20111107",
		"{d10d0bf8-f5b5-c8b4-a8b2-2b9879e08c5d}:2.0.3",
		"anttoolbar@ant.com:2.4.6.4",
		"{972ce4c6-7e08-4474-a285-3208198ce6fd}:12.0",
		"elemhidehelper@adblockplus.org:1.2.1",
	}
}

func newTestMeta() *models.Meta {
	return models.NewMeta(testCrashID, testNow)
}

// run applies r the way the pipeline does and fails the test on error.
func run(t *testing.T, r Rule, raw models.RawCrash, dumps models.RawDumps, processed models.ProcessedCrash, meta *models.Meta) bool {
	t.Helper()

	if dumps == nil {
		dumps = models.MemoryDumps{}
	}

	ran, err := Act(context.Background(), r, raw, dumps, processed, meta)
	if err != nil {
		t.Fatalf("%s: unexpected error: %v", r.Name(), err)
	}

	return ran
}

func TestAct_SkipsWhenPredicateFalse(t *testing.T) {
	processed := models.ProcessedCrash{}

	if run(t, &MozCrashReasonRule{}, models.RawCrash{}, nil, processed, newTestMeta()) {
		t.Error("Act() ran = true, want false")
	}

	if len(processed) != 0 {
		t.Errorf("processed = %v, want empty", processed)
	}
}
