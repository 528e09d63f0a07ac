package yad2

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"listing-watcher/models"
)

const itemURL = "https://www.yad2.co.il/item/"

// priceRegexp captures the first number in a price, with thousands separators.
var priceRegexp = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?`)

// ErrNoFeed is returned when a page carries no listing feed.
var ErrNoFeed = errors.New("yad2: no listing feed in page")

// ExtractNextData returns the JSON payload of the page's __NEXT_DATA__ script.
func ExtractNextData(html string) ([]byte, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("yad2: parse html: %w", err)
	}
	payload := strings.TrimSpace(doc.Find(`script#__NEXT_DATA__`).First().Text())
	if payload == "" {
		return nil, ErrNoFeed
	}
	return []byte(payload), nil
}

type nextData struct {
	Props struct {
		PageProps struct {
			DehydratedState struct {
				Queries []struct {
					State struct {
						Data json.RawMessage `json:"data"`
					} `json:"state"`
				} `json:"queries"`
			} `json:"dehydratedState"`
		} `json:"pageProps"`
	} `json:"props"`
}

type feed struct {
	Private []feedItem `json:"private"`
	Agency  []feedItem `json:"agency"`
}

type textField struct {
	Text string `json:"text"`
}

type feedItem struct {
	OrderID models.FlexString `json:"orderId"`
	Token   string            `json:"token"`
	Price   models.FlexString `json:"price"`
	Address struct {
		Street textField `json:"street"`
		House  struct {
			Number models.FlexString `json:"number"`
			Floor  models.FlexString `json:"floor"`
		} `json:"house"`
		Neighborhood textField `json:"neighborhood"`
		City         textField `json:"city"`
	} `json:"address"`
	AdditionalDetails struct {
		Property          textField `json:"property"`
		RoomsCount        float64   `json:"roomsCount"`
		SquareMeter       float64   `json:"squareMeter"`
		PropertyCondition struct {
			ID int `json:"id"`
		} `json:"propertyCondition"`
	} `json:"additionalDetails"`
	MetaData struct {
		Images           []string `json:"images"`
		CoverImage       string   `json:"coverImage"`
		SquareMeterBuild *float64 `json:"squareMeterBuild"`
	} `json:"metaData"`
	Customer struct {
		AgencyName string `json:"agencyName"`
	} `json:"customer"`
	Tags []struct {
		Name string `json:"name"`
	} `json:"tags"`
	Dates struct {
		CreatedAt string `json:"createdAt"`
		UpdatedAt string `json:"updatedAt"`
	} `json:"dates"`
}

// ParseFeed decodes the listing feed out of a __NEXT_DATA__ payload.
// Private listings come first, then agency ones.
func ParseFeed(payload []byte) ([]models.Listing, error) {
	var nd nextData
	if err := json.Unmarshal(payload, &nd); err != nil {
		return nil, fmt.Errorf("yad2: decode next data: %w", err)
	}

	for _, q := range nd.Props.PageProps.DehydratedState.Queries {
		if !isFeed(q.State.Data) {
			continue
		}
		var f feed
		if err := json.Unmarshal(q.State.Data, &f); err != nil {
			return nil, fmt.Errorf("yad2: decode feed: %w", err)
		}
		listings := make([]models.Listing, 0, len(f.Private)+len(f.Agency))
		for _, it := range f.Private {
			listings = append(listings, it.toListing("private"))
		}
		for _, it := range f.Agency {
			listings = append(listings, it.toListing(models.ListingTypeAgency))
		}
		return listings, nil
	}
	return nil, ErrNoFeed
}

func isFeed(raw json.RawMessage) bool {
	var keys map[string]json.RawMessage
	if len(raw) == 0 || raw[0] != '{' || json.Unmarshal(raw, &keys) != nil {
		return false
	}
	_, private := keys["private"]
	_, agency := keys["agency"]
	return private || agency
}

func (it feedItem) toListing(kind string) models.Listing {
	street := it.Address.Street.Text
	number := string(it.Address.House.Number)

	l := models.Listing{
		ID:    string(it.OrderID),
		Type:  kind,
		Title: title(it.AdditionalDetails.Property.Text, street, number),
		Address: models.Address{
			Street:       street,
			Number:       number,
			Floor:        string(it.Address.House.Floor),
			Neighborhood: it.Address.Neighborhood.Text,
			City:         it.Address.City.Text,
		},
		Details: models.Details{
			Rooms:        it.AdditionalDetails.RoomsCount,
			SquareMeters: int(it.AdditionalDetails.SquareMeter),
			Condition:    it.AdditionalDetails.PropertyCondition.ID,
			DateAdded:    it.Dates.CreatedAt,
			UpdatedAt:    it.Dates.UpdatedAt,
		},
		Images:     it.MetaData.Images,
		CoverImage: it.MetaData.CoverImage,
	}

	l.Details.SquareMetersBuild = l.Details.SquareMeters
	if it.MetaData.SquareMeterBuild != nil {
		l.Details.SquareMetersBuild = int(*it.MetaData.SquareMeterBuild)
	}
	l.Price = parsePrice(string(it.Price))
	if kind == models.ListingTypeAgency {
		l.Agency = it.Customer.AgencyName
	}
	for _, tag := range it.Tags {
		if tag.Name != "" {
			l.Tags = append(l.Tags, tag.Name)
		}
	}
	if it.Token != "" {
		l.Link = itemURL + it.Token
	}
	return l
}

func title(property, street, number string) string {
	address := strings.TrimSpace(street + " " + number)
	switch {
	case property == "" && address == "":
		return ""
	case property == "":
		return address
	case address == "":
		return property
	}
	return property + " - " + address
}

// parsePrice reads prices sent either as numbers or as text like "7,500 ₪".
// Missing or non-positive prices are nil.
func parsePrice(raw string) *int {
	match := priceRegexp.FindString(raw)
	if match == "" {
		return nil
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(match, ",", ""), 64)
	if err != nil || v <= 0 {
		return nil
	}
	return models.IntPtr(int(v))
}
