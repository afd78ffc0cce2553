// Package fold defines the folding engine boundary used by workers.
//
// An Engine turns a sequence and a temperature into ordered structural
// segments. TotalEnergy collapses segments into one free energy, counting
// stacking segments at half weight since each stack is shared by two strands.
package fold
