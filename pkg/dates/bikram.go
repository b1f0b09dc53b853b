package dates

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// bsEpoch is 1 Baisakh of bsFirstYear in the Gregorian calendar.
var bsEpoch = time.Date(2013, time.April, 14, 0, 0, 0, 0, time.UTC)

const bsFirstYear = 2070

// Month lengths for each Bikram Sambat year, as published by the Nepal
// Panchanga Nirnayak Samiti.
var bsMonthDays = [][12]int{
	{31, 31, 31, 32, 31, 31, 29, 30, 30, 29, 30, 30}, // 2070
	{31, 31, 32, 31, 31, 31, 30, 29, 30, 29, 30, 30},
	{31, 32, 31, 32, 31, 30, 30, 29, 30, 29, 30, 30},
	{31, 32, 31, 32, 31, 30, 30, 30, 29, 29, 30, 31},
	{31, 31, 31, 32, 31, 31, 30, 29, 30, 29, 30, 30},
	{31, 32, 31, 32, 31, 30, 30, 30, 29, 29, 30, 30}, // 2075
	{31, 31, 32, 31, 31, 31, 30, 29, 30, 29, 30, 30},
	{31, 32, 31, 32, 31, 30, 30, 30, 29, 30, 29, 31},
	{31, 31, 31, 32, 31, 31, 30, 29, 30, 29, 30, 30},
	{31, 31, 32, 31, 31, 31, 30, 29, 30, 29, 30, 30},
	{31, 32, 31, 32, 31, 30, 30, 30, 29, 29, 30, 30}, // 2080
	{31, 32, 31, 32, 31, 30, 30, 30, 29, 30, 29, 31},
	{31, 31, 32, 31, 31, 30, 30, 30, 29, 30, 30, 30},
	{31, 31, 32, 31, 31, 30, 30, 30, 29, 30, 30, 30},
}

var bsNumberRe = regexp.MustCompile(`\d+`)

// BikramSambatToGregorian converts a Bikram Sambat calendar day to the
// Gregorian day it falls on, as midnight in loc. It reports false when the
// year is outside the table or the day does not exist in that month.
func BikramSambatToGregorian(year, month, day int, loc *time.Location) (time.Time, bool) {
	idx := year - bsFirstYear
	if idx < 0 || idx >= len(bsMonthDays) || month < 1 || month > 12 {
		return time.Time{}, false
	}
	if day < 1 || day > bsMonthDays[idx][month-1] {
		return time.Time{}, false
	}

	offset := 0
	for y := 0; y < idx; y++ {
		for _, d := range bsMonthDays[y] {
			offset += d
		}
	}
	for m := 0; m < month-1; m++ {
		offset += bsMonthDays[idx][m]
	}
	offset += day - 1

	g := bsEpoch.AddDate(0, 0, offset)
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(g.Year(), g.Month(), g.Day(), 0, 0, 0, 0, loc), true
}

// parseBikramSambat reads text such as "२०८१ बैशाख १ गते, शनिबार". The
// four-digit number is the year and the shorter one the day of the month.
func parseBikramSambat(raw string, loc *time.Location) (time.Time, bool) {
	text := Transliterate(raw)

	month := 0
	for _, f := range strings.Fields(text) {
		word, _ := splitTrailingPunct(f)
		if m, ok := bikramSambatMonths[word]; ok {
			month = m
			break
		}
	}
	if month == 0 {
		return time.Time{}, false
	}

	year, day := 0, 0
	for _, num := range bsNumberRe.FindAllString(text, -1) {
		n, err := strconv.Atoi(num)
		if err != nil {
			continue
		}
		switch {
		case len(num) == 4 && year == 0:
			year = n
		case len(num) <= 2 && day == 0:
			day = n
		}
	}
	if year == 0 || day == 0 {
		return time.Time{}, false
	}
	return BikramSambatToGregorian(year, month, day, loc)
}
