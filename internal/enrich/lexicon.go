package enrich

// knownOrganisations are matched case-sensitively as whole words.
var knownOrganisations = []string{
	"Tesla", "Ford", "General Motors", "GM", "Stellantis", "Toyota", "Honda",
	"Nissan", "Hyundai", "Kia", "Volkswagen", "VW", "BMW", "Mercedes-Benz",
	"Audi", "Porsche", "Volvo", "Polestar", "Rivian", "Lucid", "BYD", "NIO",
	"XPeng", "Li Auto", "Geely", "Renault", "Jaguar Land Rover", "Subaru",
	"Mazda", "Ferrari", "Lamborghini", "Waymo", "Cruise", "Zoox", "Mobileye",
	"Nvidia", "Qualcomm", "Apple", "Google", "Uber", "Lyft", "CATL",
	"Panasonic", "LG Energy Solution", "Samsung SDI", "Bosch", "Continental",
	"ZF", "Denso", "Magna", "Aptiv", "NHTSA", "EPA", "UAW", "ChargePoint",
}

// topicKeywords maps a topic to lowercase keywords that signal it.
var topicKeywords = map[string][]string{
	"electric vehicles":  {"electric vehicle", " ev ", " evs ", "electric car", "battery-electric", "bev", "plug-in hybrid", "phev"},
	"autonomous driving": {"autonomous", "self-driving", "driverless", "robotaxi", "autopilot", "adas", "lidar"},
	"batteries":          {"battery", "batteries", "cell chemistry", "solid-state", "lithium", "gigafactory"},
	"recalls":            {"recall", "recalled", "safety defect", "nhtsa investigation"},
	"earnings":           {"earnings", "quarterly results", "revenue", "profit", "net income", "guidance", "quarter"},
	"supply chain":       {"supply chain", "chip shortage", "semiconductor", "supplier", "shortage", "logistics"},
	"regulation":         {"regulation", "regulator", "emissions standard", "tariff", "mandate", "legislation", "compliance"},
	"motorsport":         {"formula 1", "formula one", "f1", "nascar", "le mans", "rally", "grand prix", "indycar"},
	"pricing":            {"price cut", "price increase", "msrp", "pricing", "discount", "incentive", "lease"},
	"manufacturing":      {"factory", "plant", "production line", "assembly", "manufacturing", "output"},
	"charging":           {"charging", "charger", "supercharger", "nacs", "ccs", "charging network", "kilowatt"},
}

var positiveWords = []string{
	"growth", "record", "surge", "gain", "gains", "improve", "improved", "improvement",
	"strong", "success", "successful", "breakthrough", "launch", "expand", "expansion",
	"profit", "profitable", "beat", "beats", "award", "wins", "innovative", "boost",
	"rise", "rises", "upgrade", "milestone", "best",
}

var negativeWords = []string{
	"recall", "recalls", "decline", "declines", "drop", "drops", "loss", "losses",
	"layoff", "layoffs", "cut", "cuts", "crash", "fire", "defect", "lawsuit",
	"investigation", "delay", "delayed", "shortage", "strike", "fall", "falls",
	"weak", "miss", "misses", "fine", "fined", "warning", "worst", "halt", "halted",
}

var knownLocations = []string{
	"United States", "USA", "U.S.", "Canada", "Mexico", "Brazil", "United Kingdom",
	"UK", "Germany", "France", "Italy", "Spain", "Sweden", "Norway", "Netherlands",
	"Poland", "Czech Republic", "Hungary", "China", "Japan", "South Korea", "India",
	"Thailand", "Indonesia", "Vietnam", "Australia", "Europe", "Asia",
	"Detroit", "Dearborn", "Fremont", "Austin", "Palo Alto", "Silicon Valley",
	"Stuttgart", "Munich", "Wolfsburg", "Ingolstadt", "Gothenburg", "Turin",
	"Tokyo", "Toyota City", "Nagoya", "Seoul", "Ulsan", "Shanghai", "Shenzhen",
	"Beijing", "Hefei", "Chattanooga", "Spartanburg", "Georgia", "Michigan",
	"California", "Texas", "Ohio", "Tennessee",
}
